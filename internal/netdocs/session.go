// Package netdocs holds the per-tenant session against the NetDocuments
// repository API: attribute registration for clients and matters, multipart
// document upload, and configuration probing for the settings-validation
// webhook.
package netdocs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"docbridge/pkg/health"
	"docbridge/pkg/middleware"
	"docbridge/pkg/oauth"
	"docbridge/pkg/problems"
	"docbridge/pkg/tenants"
)

const userAgent = "PEPrime-NetDocs"

// Session is the long-lived authenticated handle for one tenant's NetDocs
// repository.
type Session struct {
	log    *zap.SugaredLogger
	cfg    tenants.NetDocsConfig
	tokens *oauth.TokenSource
	hc     *http.Client
	health *health.Tracker
}

func newSession(log *zap.SugaredLogger, cfg tenants.NetDocsConfig) *Session {
	cfg = cfg.WithDefaults()
	ts := tokenSource(cfg)
	return &Session{
		log:    log,
		cfg:    cfg,
		tokens: ts,
		hc: &http.Client{Transport: &oauth.Transport{
			Source: ts,
			Base:   middleware.OutboundTransport(nil),
		}},
		health: health.NewTracker(),
	}
}

func tokenSource(cfg tenants.NetDocsConfig) *oauth.TokenSource {
	return oauth.NewTokenSource(oauth.Credentials{
		TokenURL:     cfg.OAuthTokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RepositoryID: cfg.RepositoryID,
		UserAgent:    userAgent,
	}, nil)
}

func (s *Session) Health() health.Status { return s.health.Get() }

// Init proves connectivity by acquiring an OAuth token.
func (s *Session) Init(ctx context.Context) error {
	if _, err := s.tokens.Token(ctx); err != nil {
		s.health.Set(health.Unhealthy, "failed to retrieve OAuth token ["+err.Error()+"]")
		return err
	}
	s.health.Set(health.Healthy, "")
	return nil
}

// EnsureClient registers (or re-registers) the client number attribute value.
func (s *Session) EnsureClient(ctx context.Context, clientNumber, displayName string) error {
	clientNumber = sanitise(clientNumber)
	path := "v1/attributes/" + s.cfg.RepositoryID + "/" + s.cfg.ClientAttributeID +
		"/" + url.PathEscape(clientNumber)
	return s.putJSON(ctx, path, map[string]string{"description": displayName})
}

// EnsureMatter registers the matter number attribute value under its client.
func (s *Session) EnsureMatter(ctx context.Context, clientNumber, matterNumber, matterTitle string) error {
	clientNumber = sanitise(clientNumber)
	matterNumber = sanitise(matterNumber)
	path := "v1/attributes/" + s.cfg.RepositoryID + "/" + s.cfg.MatterAttributeID +
		"/" + url.PathEscape(clientNumber) +
		"/" + url.PathEscape(matterNumber)
	return s.putJSON(ctx, path, map[string]string{"description": matterTitle})
}

// UploadDocument pushes file content into the cabinet, profiled against the
// client and matter attributes when known.
func (s *Session) UploadDocument(ctx context.Context, documentID, clientNumber, matterNumber, fileName string, content io.Reader) (json.RawMessage, error) {
	clientNumber = sanitise(clientNumber)
	matterNumber = sanitise(matterNumber)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("action", "upload"); err != nil {
		return nil, problems.TransientIO("build upload form", err)
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, problems.TransientIO("build upload form", err)
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, problems.TransientIO("read document content", err)
	}

	type profileAttr struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	}
	var profile []profileAttr
	if clientNumber != "" {
		profile = append(profile, profileAttr{ID: s.cfg.ClientAttributeID, Value: clientNumber})
	}
	if matterNumber != "" {
		profile = append(profile, profileAttr{ID: s.cfg.MatterAttributeID, Value: matterNumber})
	}
	rawProfile, _ := json.Marshal(profile)
	if err := mw.WriteField("profile", string(rawProfile)); err != nil {
		return nil, problems.TransientIO("build upload form", err)
	}
	if err := mw.WriteField("cabinet", s.cfg.CabinetID); err != nil {
		return nil, problems.TransientIO("build upload form", err)
	}
	if err := mw.WriteField("return", "full"); err != nil {
		return nil, problems.TransientIO("build upload form", err)
	}
	if err := mw.Close(); err != nil {
		return nil, problems.TransientIO("build upload form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL+"v1/document", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, problems.TransientIO("build upload request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, problems.TransientIO("upload document", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, problems.FromStatus(resp.StatusCode, "upload "+documentID, raw)
	}
	s.log.Infow("document uploaded", "document_id", documentID, "file", fileName)
	return raw, nil
}

func (s *Session) putJSON(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return problems.TransientIO("encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.cfg.APIURL+path, bytes.NewReader(raw))
	if err != nil {
		return problems.TransientIO("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return problems.TransientIO(path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rb, _ := io.ReadAll(resp.Body)
		return problems.FromStatus(resp.StatusCode, path, rb)
	}
	return nil
}

// sanitise maps characters NetDocs rejects in attribute values.
func sanitise(input string) string {
	return strings.ReplaceAll(input, "/", "-")
}

// Validate probes a candidate NetDocs configuration by acquiring a token with
// it. Returns the failure reasons, or nil when the config works.
func Validate(ctx context.Context, cfg tenants.NetDocsConfig) []string {
	if _, err := tokenSource(cfg.WithDefaults()).Token(ctx); err != nil {
		return []string{err.Error()}
	}
	return nil
}
