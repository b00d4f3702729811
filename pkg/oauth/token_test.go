package oauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docbridge/pkg/problems"
)

func tokenServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		// serialize a distinct token per refresh so callers can tell them apart
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, n)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConcurrentTokenSingleFlight(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	ts := NewTokenSource(Credentials{TokenURL: srv.URL, ClientID: "id", ClientSecret: "sec"}, nil)

	const n = 16
	tokens := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := ts.Token(context.Background())
			require.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, tok := range tokens {
		require.Equal(t, "tok-1", tok)
	}
}

func TestExpiredTokenRefreshesOnce(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	ts := NewTokenSource(Credentials{TokenURL: srv.URL, ClientID: "id", ClientSecret: "sec"}, nil)

	now := time.Now()
	ts.now = func() time.Time { return now }

	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)

	// still valid: no second call
	tok, err = ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// advance past expiry (3600s ttl minus the safety margin)
	now = now.Add(3600 * time.Second)
	tok, err = ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestExpiryHonorsSafetyMargin(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	ts := NewTokenSource(Credentials{TokenURL: srv.URL, ClientID: "id", ClientSecret: "sec"}, nil)

	now := time.Now()
	ts.now = func() time.Time { return now }
	_, err := ts.Token(context.Background())
	require.NoError(t, err)

	// the margin shaves 5s off the advertised ttl
	now = now.Add(3600*time.Second - safetyMargin)
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestRepositoryCredentialStyle(t *testing.T) {
	var gotAuth, gotScope string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseForm())
		gotScope = r.PostForm.Get("scope")
		// NetDocs answers expires_in as a string
		fmt.Fprint(w, `{"access_token":"nd-tok","expires_in":"1800"}`)
	}))
	defer srv.Close()

	ts := NewTokenSource(Credentials{
		TokenURL:     srv.URL,
		ClientID:     "cid",
		ClientSecret: "sec",
		RepositoryID: "repo",
	}, nil)
	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "nd-tok", tok)

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("cid|repo:sec"))
	require.Equal(t, want, gotAuth)
	require.Equal(t, "full", gotScope)
}

func TestMalformedTokenResponse(t *testing.T) {
	cases := map[string]string{
		"missing token": `{"expires_in":3600}`,
		"missing ttl":   `{"access_token":"tok"}`,
		"not json":      `<html>`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer srv.Close()
			ts := NewTokenSource(Credentials{TokenURL: srv.URL, ClientID: "id", ClientSecret: "s"}, nil)
			_, err := ts.Token(context.Background())
			require.Error(t, err)
			require.True(t, errors.Is(err, problems.Protocol("")))
		})
	}
}

func TestTokenEndpointRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad client", http.StatusBadRequest)
	}))
	defer srv.Close()
	ts := NewTokenSource(Credentials{TokenURL: srv.URL, ClientID: "id", ClientSecret: "s"}, nil)
	_, err := ts.Token(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, problems.Authentication("")))
	require.Contains(t, err.Error(), "400")
	require.Contains(t, err.Error(), "bad client")
}

func TestRefreshFailureLeavesCacheUnauthenticated(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if fail.Load() {
			http.Error(w, "nope", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"access_token":"tok","expires_in":3600}`)
	}))
	defer srv.Close()

	ts := NewTokenSource(Credentials{TokenURL: srv.URL, ClientID: "id", ClientSecret: "s"}, nil)
	_, err := ts.Token(context.Background())
	require.Error(t, err)

	// next call refreshes again rather than serving a stale failure
	fail.Store(false)
	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok", tok)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
