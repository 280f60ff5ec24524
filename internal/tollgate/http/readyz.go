package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/aussiebroadwan/tollgate/pkg/httpx"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
)

const readyTimeout = 2 * time.Second

// ReadyzHandler reports 503 when the store, the signer or the optional cache
// is not usable.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	keys *jwtx.KeySet,
	cache Pinger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := &HealthChecks{
			Database: "ok",
			Signer:   "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		// Check database connectivity
		if err := st.Ping(ctx); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		// Check if JWT signer/verifier has keys loaded
		if keys == nil || !keys.IsReady() {
			checks.Signer = "error: no keys loaded"
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if cache != nil {
			checks.Cache = "ok"
			if err := cache.Ping(ctx); err != nil {
				checks.Cache = "error: " + err.Error()
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}

		response := HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}
