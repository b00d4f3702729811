package oauth

import (
	"io"
	"net/http"
)

// Transport is an http.RoundTripper that attaches the current bearer token
// and, on a 401, force-refreshes the token and retries the call exactly once.
// A second 401 (or any other failure) is returned to the caller untouched.
type Transport struct {
	Source *TokenSource
	Base   http.RoundTripper
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.Source.Token(req.Context())
	if err != nil {
		return nil, err
	}

	first := cloneRequest(req)
	first.Header.Set("Authorization", "Bearer "+tok)
	resp, err := t.base().RoundTrip(first)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Retry requires a replayable body.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	tok, err = t.Source.ForceRefresh(req.Context())
	if err != nil {
		return nil, err
	}
	retry := cloneRequest(req)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+tok)
	return t.base().RoundTrip(retry)
}

// cloneRequest makes a shallow copy with copied headers, per the
// RoundTripper contract that the request must not be modified.
func cloneRequest(req *http.Request) *http.Request {
	out := req.Clone(req.Context())
	return out
}
