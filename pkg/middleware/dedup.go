// pkg/middleware/dedup.go
package middleware

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dedup drops redelivered webhook requests by their Prime request id, using a
// redis SETNX with a TTL matching the replay window. Pass-through when no
// redis client is configured or the delivery has no request id.
func Dedup(log *zap.SugaredLogger, rdb *redis.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rdb == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := WebhookRequestID(r.Context())
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := rdb.SetNX(r.Context(), "webhook:req:"+id, 1, 2*replayWindow).Result()
			if err != nil {
				// Redis trouble must not stall deliveries.
				log.Warnw("dedup check failed", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				log.Infow("duplicate webhook delivery dropped", "request_id", id)
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"duplicate":true}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
