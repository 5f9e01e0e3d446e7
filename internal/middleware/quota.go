package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/glowpost/backend/internal/scheduler"
)

// QuotaEnforcer blocks manual post creation once a client's weekly limit is
// reached. It reads the same ledger the decision engine uses, so the API and
// the scheduler can't disagree about remaining quota.
type QuotaEnforcer struct {
	Ledger *scheduler.Ledger
}

func NewQuotaEnforcer(ledger *scheduler.Ledger) *QuotaEnforcer {
	return &QuotaEnforcer{Ledger: ledger}
}

// Middleware wraps a handler whose path carries /client/{clientId}.
func (qe *QuotaEnforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := extractClientID(r)
		if clientID == "" {
			next.ServeHTTP(w, r)
			return
		}

		ok, err := qe.Ledger.MayPost(r.Context(), clientID, time.Now().UTC())
		if err != nil {
			// Quota lookup problems must not take the API down.
			log.Printf("[QuotaEnforcer] check failed clientId=%s err=%v", clientID, err)
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			respondLimitExceeded(w, clientID)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractClientID pulls the client id from path segments like
// /api/posts/client/{clientId}.
func extractClientID(r *http.Request) string {
	parts := strings.Split(r.URL.Path, "/")
	for i, part := range parts {
		if part == "client" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func respondLimitExceeded(w http.ResponseWriter, clientID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":       "weekly_post_limit_exceeded",
		"message":     "This client has reached its weekly post limit",
		"clientId":    clientID,
		"upgrade_url": "/account/billing",
	})
}
