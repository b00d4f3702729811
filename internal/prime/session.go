// Package prime holds the per-tenant session against the Prime practice
// management API: webhook subscription registration plus the read surface the
// event handlers need (clients, matters, document collections, documents).
package prime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docbridge/pkg/config"
	"docbridge/pkg/health"
	"docbridge/pkg/middleware"
	"docbridge/pkg/oauth"
	"docbridge/pkg/problems"
)

// IntegrationID identifies this integration in the Prime application
// directory.
var IntegrationID = uuid.MustParse("42d88299-71c9-4230-a995-5a78c1bd9146")

// Fixed subscription ids so repeated registration PUTs are idempotent.
var (
	subClient   = uuid.MustParse("86a24d17-0000-0000-0000-851853400170")
	subDocument = uuid.MustParse("86a24d17-0000-0000-0000-851853400171")
	subMatter   = uuid.MustParse("86a24d17-0000-0000-0000-851853400172")
	subSettings = uuid.MustParse("86a24d17-0000-0000-0000-851853400173")
)

// Session is the long-lived authenticated handle for one Prime tenant.
// Created once per tenant and cached for the process lifetime.
type Session struct {
	log     *zap.SugaredLogger
	cfg     config.PrimeConfig
	tenant  string
	baseURL string
	hc      *http.Client
	health  *health.Tracker
}

func newSession(log *zap.SugaredLogger, cfg config.PrimeConfig, tenant, apiOverride string) *Session {
	api := cfg.APIURL
	if apiOverride != "" {
		api = apiOverride
	}
	ts := oauth.NewTokenSource(oauth.Credentials{
		TokenURL:     cfg.TokenEndpoint,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scope:        cfg.Scope,
	}, nil)
	return &Session{
		log:     log,
		cfg:     cfg,
		tenant:  tenant,
		baseURL: strings.Replace(api, "{tenant}", tenant, -1),
		hc: &http.Client{Transport: &oauth.Transport{
			Source: ts,
			Base:   middleware.OutboundTransport(nil),
		}},
		health: health.NewTracker(),
	}
}

func (s *Session) Health() health.Status { return s.health.Get() }

// Init registers the four webhook subscriptions this integration listens on.
// Safe to call repeatedly; the subscription ids are fixed.
func (s *Session) Init(ctx context.Context) error {
	receiver := strings.TrimRight(s.cfg.ReceiverURL, "/")
	regs := []struct {
		id     uuid.UUID
		path   string
		events []string
	}{
		{subClient, "client", []string{"PE.Mk2.Accounting.V1.ClientCreated", "PE.Mk2.Accounting.V1.ClientUpdated"}},
		{subDocument, "document", []string{"PE.Mk2.Documents.V1.DocumentCreated", "PE.Mk2.Documents.V1.DocumentCheckedIn"}},
		{subMatter, "matter", []string{"PE.Mk2.Accounting.V1.MatterCreated", "PE.Mk2.Accounting.V1.MatterUpdated"}},
		{subSettings, "settings", []string{"PE.Mk2.Core.V1.SettingsValidationRequested"}},
	}
	for _, reg := range regs {
		if err := s.registerWebhook(ctx, reg.id, receiver+"/"+reg.path, reg.events); err != nil {
			s.health.Set(health.Unhealthy, "failed to register webhook")
			return fmt.Errorf("register webhook %s: %w", reg.path, err)
		}
	}
	s.health.Set(health.Healthy, "webhooks registered")
	return nil
}

func (s *Session) registerWebhook(ctx context.Context, id uuid.UUID, receiverURL string, events []string) error {
	_, err := s.doJSON(ctx, http.MethodPut, "v1/webhooks", map[string]any{
		"id":      webhookID(id),
		"enabled": true,
		"url":     receiverURL,
		"secret":  s.cfg.SigningKey,
		"events":  events,
	})
	return err
}

// UnregisterWebhook removes one of this integration's subscriptions.
func (s *Session) UnregisterWebhook(ctx context.Context, id uuid.UUID) error {
	_, err := s.doJSON(ctx, http.MethodDelete, "v1/webhooks/"+webhookID(id), nil)
	return err
}

// UnregisterWebhooks removes every subscription this integration holds on the
// tenant. Used when a tenant is decommissioned.
func (s *Session) UnregisterWebhooks(ctx context.Context) error {
	for _, id := range []uuid.UUID{subClient, subDocument, subMatter, subSettings} {
		if err := s.UnregisterWebhook(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func webhookID(id uuid.UUID) string {
	return "webhook_" + strings.Replace(id.String(), "-", "", -1)
}

func (s *Session) Client(ctx context.Context, clientID string) (json.RawMessage, error) {
	return s.getData(ctx, "v1/clients/"+url.PathEscape(clientID))
}

func (s *Session) Matter(ctx context.Context, matterID string) (json.RawMessage, error) {
	return s.getData(ctx, "v1/matters/"+url.PathEscape(matterID))
}

func (s *Session) Collection(ctx context.Context, collectionID string) (json.RawMessage, error) {
	return s.getData(ctx, "v1/documentcollections/"+url.PathEscape(collectionID))
}

func (s *Session) Document(ctx context.Context, documentID string) (json.RawMessage, error) {
	return s.getData(ctx, "v1/documents/"+url.PathEscape(documentID))
}

// DownloadDocument streams the document content. The caller owns the reader.
func (s *Session) DownloadDocument(ctx context.Context, documentID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"v1/documents/"+url.PathEscape(documentID)+"/download", nil)
	if err != nil {
		return nil, problems.TransientIO("build download request", err)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, problems.TransientIO("download document", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, problems.FromStatus(resp.StatusCode, "v1/documents/"+documentID+"/download", body)
	}
	return resp.Body, nil
}

// Settings fetches this integration's tenant-level settings blob.
func (s *Session) Settings(ctx context.Context) (json.RawMessage, error) {
	return s.getData(ctx, "v1/integrations/tenantSettings")
}

// PutSettings replaces this integration's tenant-level settings blob.
func (s *Session) PutSettings(ctx context.Context, settings json.RawMessage) (json.RawMessage, error) {
	resp, err := s.doJSON(ctx, http.MethodPut, "v1/integrations/tenantSettings", settings)
	if err != nil {
		return nil, err
	}
	return unwrapData(resp)
}

func (s *Session) getData(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := s.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return unwrapData(resp)
}

// unwrapData extracts the "data" envelope Prime wraps every resource in.
func unwrapData(raw json.RawMessage) (json.RawMessage, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Data == nil {
		return nil, problems.Protocol("response has no data envelope")
	}
	return envelope.Data, nil
}

func (s *Session) doJSON(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, problems.TransientIO("encode request", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rd)
	if err != nil {
		return nil, problems.TransientIO("build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, problems.TransientIO(path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, problems.FromStatus(resp.StatusCode, path, raw)
	}
	return raw, nil
}

