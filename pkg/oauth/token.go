// Package oauth implements client-credentials token acquisition with a
// single cached token per source and single-flight refresh.
package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"docbridge/pkg/problems"
)

// safetyMargin is subtracted from the advertised TTL so a token is refreshed
// before clock skew or in-flight latency can make it expire mid-request.
const safetyMargin = 5 * time.Second

// Credentials describes one client-credentials token endpoint.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string

	// RepositoryID switches to the NetDocuments exchange style: the client,
	// repository and secret travel in a Basic authorization header encoded as
	// base64("clientId|repositoryId:clientSecret") and the grant is requested
	// with scope=full. When empty, credentials travel as form fields.
	RepositoryID string

	// UserAgent is sent on token requests when non-empty.
	UserAgent string
}

// TokenSource caches a single bearer token and refreshes it on demand. The
// mutex intentionally spans the refresh network call: concurrent callers wait
// for the one in-flight refresh instead of issuing duplicates.
type TokenSource struct {
	creds Credentials
	hc    *http.Client
	now   func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenSource(creds Credentials, hc *http.Client) *TokenSource {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &TokenSource{creds: creds, hc: hc, now: time.Now}
}

// Token returns the cached token, refreshing first if none is cached or the
// cached one has expired.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && ts.now().Before(ts.expires) {
		return ts.token, nil
	}
	return ts.refreshLocked(ctx)
}

// ForceRefresh discards any cached token and performs a refresh. Used after a
// protected resource answers 401 with a token we believed valid.
func (ts *TokenSource) ForceRefresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.refreshLocked(ctx)
}

func (ts *TokenSource) refreshLocked(ctx context.Context) (string, error) {
	ts.token = ""

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.creds.TokenURL, nil)
	if err != nil {
		return "", problems.TransientIO("build token request", err)
	}
	if ts.creds.RepositoryID != "" {
		basic := base64.StdEncoding.EncodeToString(
			[]byte(ts.creds.ClientID + "|" + ts.creds.RepositoryID + ":" + ts.creds.ClientSecret))
		req.Header.Set("Authorization", "Basic "+basic)
		form.Set("scope", "full")
	} else {
		form.Set("client_id", ts.creds.ClientID)
		form.Set("client_secret", ts.creds.ClientSecret)
		if ts.creds.Scope != "" {
			form.Set("scope", ts.creds.Scope)
		}
	}
	body := form.Encode()
	req.Body = io.NopCloser(strings.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if ts.creds.UserAgent != "" {
		req.Header.Set("User-Agent", ts.creds.UserAgent)
	}

	resp, err := ts.hc.Do(req)
	if err != nil {
		return "", problems.TransientIO("token endpoint unreachable", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", problems.Authentication("failed to get access token %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var tr struct {
		AccessToken string          `json:"access_token"`
		ExpiresIn   json.RawMessage `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", problems.Protocol("token response is not valid JSON: %v", err)
	}
	if tr.AccessToken == "" {
		return "", problems.Protocol("invalid token response, expecting access_token but cannot find it")
	}
	ttl, ok := parseExpiresIn(tr.ExpiresIn)
	if !ok {
		return "", problems.Protocol("invalid token response, expecting expires_in but cannot find it")
	}

	ts.token = tr.AccessToken
	ts.expires = ts.now().Add(time.Duration(ttl)*time.Second - safetyMargin)
	return ts.token, nil
}

// parseExpiresIn accepts both numeric and string TTLs; token endpoints differ.
func parseExpiresIn(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}
