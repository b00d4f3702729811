// pkg/middleware/webhook.go
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Headers Prime sets on every webhook delivery.
const (
	HeaderRequestID   = "X-PE2-REQUEST-ID"
	HeaderTimestamp   = "X-PE2-TIMESTAMP"
	HeaderSignature   = "X-PE2-WEBHOOK-SIGNATURE"
	HeaderTenantAlias = "X-PE2-TENANT-ALIAS"
)

const signaturePrefix = "HMACSHA256:"

// replayWindow bounds how far a delivery timestamp may drift from the current
// time, in either direction.
const replayWindow = 5 * time.Minute

type ctxTenantAliasKey struct{}
type ctxWebhookReqIDKey struct{}

// WebhookAuth validates inbound Prime deliveries: HMAC signature over
// "{requestId}|{timestamp}" plus a timestamp freshness window. Stateless per
// request.
type WebhookAuth struct {
	log *zap.SugaredLogger
	key []byte

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewWebhookAuth builds the authenticator. An empty signing key disables
// validation entirely; that is an explicit insecure mode for development and
// is warned about once here, not per request.
func NewWebhookAuth(log *zap.SugaredLogger, signingKey string) *WebhookAuth {
	a := &WebhookAuth{log: log, Now: time.Now}
	if signingKey == "" {
		log.Warnw("webhook signing key not specified, no validation will be done; receivers are a public unprotected endpoint")
	} else {
		a.key = []byte(signingKey)
	}
	return a
}

// Sign computes the signature value Prime is expected to send, including the
// algorithm prefix.
func Sign(key []byte, requestID, timestamp string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(requestID + "|" + timestamp))
	return signaturePrefix + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (a *WebhookAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			timestamp := r.Header.Get(HeaderTimestamp)

			if a.key != nil {
				received := r.Header.Get(HeaderSignature)
				expected := Sign(a.key, requestID, timestamp)
				if !hmac.Equal([]byte(received), []byte(expected)) {
					a.log.Warnw("webhook rejected", "reason", "invalid signature", "request_id", requestID)
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}

				ts, err := time.Parse(time.RFC3339, timestamp)
				if err != nil {
					a.log.Warnw("webhook rejected", "reason", "unparseable timestamp", "request_id", requestID)
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				drift := a.Now().Sub(ts)
				if drift < 0 {
					drift = -drift
				}
				if drift > replayWindow {
					a.log.Warnw("webhook rejected", "reason", "stale timestamp", "request_id", requestID)
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
			}

			ctx := r.Context()
			if alias := r.Header.Get(HeaderTenantAlias); alias != "" {
				ctx = context.WithValue(ctx, ctxTenantAliasKey{}, alias)
			}
			if requestID != "" {
				ctx = context.WithValue(ctx, ctxWebhookReqIDKey{}, requestID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantAlias returns the tenant claim extracted from the delivery headers,
// or "" when the delivery carried none.
func TenantAlias(ctx context.Context) string {
	if v, ok := ctx.Value(ctxTenantAliasKey{}).(string); ok {
		return v
	}
	return ""
}

// WebhookRequestID returns Prime's delivery identifier for deduplication.
func WebhookRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxWebhookReqIDKey{}).(string); ok {
		return v
	}
	return ""
}
