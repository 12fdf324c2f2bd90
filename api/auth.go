/*
auth.go - Caller identity middleware

PURPOSE:
  Resolves the acting operator for every /api request. Authentication
  itself happens upstream (gateway/session layer); this service trusts the
  X-Account-Id header it receives and builds the hierarchy.Caller that the
  domain services use for authorization.

BEHAVIOR:
  - Missing or unknown account id: 401
  - The caller account is validity-checked on the way in, so an operator
    whose own subscription lapsed is cut off (403) before touching any
    resource, and the lapse cascades over their subtree right there.
  - Subscribers are not operators; only accounts appear in the header.

SEE ALSO:
  - hierarchy/types.go: Caller and the CanView scope rule
  - server.go: middleware ordering
*/
package api

import (
	"context"
	"net/http"

	"github.com/skycast/reseller-engine/hierarchy"
)

// CallerHeader is the trusted identity header set by the upstream gateway.
const CallerHeader = "X-Account-Id"

type contextKey string

const callerKey contextKey = "caller"

// WithCaller resolves the acting account and stores the Caller in the
// request context. Requests without a resolvable caller never reach a
// handler.
func (h *Handler) WithCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := r.Header.Get(CallerHeader)
		if accountID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+CallerHeader+" header", nil)
			return
		}

		account, err := h.Cascade.CheckAccount(r.Context(), accountID)
		if err != nil {
			if hierarchy.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, "unknown account", nil)
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to resolve caller", err)
			return
		}
		if account.Status != hierarchy.StatusActive {
			writeError(w, http.StatusForbidden, "account is inactive", nil)
			return
		}

		caller := hierarchy.Caller{AccountID: account.ID, Tier: account.Tier}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

// callerFrom returns the Caller the middleware stored.
func callerFrom(ctx context.Context) hierarchy.Caller {
	caller, _ := ctx.Value(callerKey).(hierarchy.Caller)
	return caller
}
