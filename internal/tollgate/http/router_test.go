package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/store/drivers/sqlite"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
)

func newTestRouter(t *testing.T, cache Pinger) *Router {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: "tollgate-test"})
	require.NoError(t, err)

	r := NewRouter(km.KeySet, "v-test", st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Cache = cache
	r.ApplyRoutes()
	return r
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestLivez(t *testing.T) {
	r := newTestRouter(t, nil)

	rec, body := get(t, r, "/livez")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "v-test", body.Version)
	require.Nil(t, body.Checks)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		r := newTestRouter(t, nil)

		rec, body := get(t, r, "/readyz")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok", body.Status)
		require.Equal(t, "ok", body.Checks.Database)
		require.Equal(t, "ok", body.Checks.Signer)
		require.Empty(t, body.Checks.Cache)
	})

	t.Run("cache down", func(t *testing.T) {
		r := newTestRouter(t, PingFunc(func(context.Context) error {
			return errors.New("connection refused")
		}))

		rec, body := get(t, r, "/readyz")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Equal(t, "degraded", body.Status)
		require.Equal(t, "error: connection refused", body.Checks.Cache)
	})

	t.Run("store closed", func(t *testing.T) {
		st, err := sqlite.NewStore(":memory:")
		require.NoError(t, err)
		require.NoError(t, st.Close())

		km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: "tollgate-test"})
		require.NoError(t, err)
		r := NewRouter(km.KeySet, "v-test", st, slog.New(slog.NewTextHandler(io.Discard, nil)))
		r.ApplyRoutes()

		rec, body := get(t, r, "/readyz")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Contains(t, body.Checks.Database, "error: ")
	})
}

func TestUnknownRoute(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/credentials", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
