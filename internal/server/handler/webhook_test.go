package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"dataflow/internal/common"
	"dataflow/internal/server/syncer"
	"dataflow/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "s3cret"

func signed(body, timestamp, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if timestamp != "" {
		req.Header.Set("X-Webhook-Timestamp", timestamp)
	}
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	return req
}

func TestWebhookSyncsProject(t *testing.T) {
	f := setup(t)
	h := New(f.orch, f.buffers, syncer.New(syncer.DirFetcher{Root: f.repos}))
	h.SetWebhookSecret(secret)
	router := h.Router()

	dir := filepath.Join(f.repos, "sales")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pipelines", "orders"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "project.yml"), []byte(`
name: Sales
pipelines:
  - slug: orders
    sources: [shop]
    destination: dw
    transformations: [clean.go]
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipelines", "orders", "clean.go"), []byte("passthrough\n"), 0o644))

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	body := `{"project": "sales"}`

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signed(body, ts, Sign(ts, []byte(body), secret)))
	require.Equal(t, http.StatusOK, w.Code)
	_, res := decode[api.SyncResponse](t, w)
	assert.Equal(t, api.SyncResponse{Pipelines: 1, Transformations: 1}, res)

	cases := []struct {
		name string
		req  *http.Request
		code int
	}{
		{"no headers", signed(body, "", ""), http.StatusBadRequest},
		{"bad signature", signed(body, ts, Sign(ts, []byte(body), "other")), http.StatusBadRequest},
		{"expired", signed(body, "1000", Sign("1000", []byte(body), secret)), http.StatusBadRequest},
		{"unknown project", signed(`{"project": "hr"}`, ts, Sign(ts, []byte(`{"project": "hr"}`), secret)), http.StatusNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, c.req)
			assert.Equal(t, c.code, w.Code)
		})
	}
}

func TestWebhookDisabledWithoutSecret(t *testing.T) {
	f := setup(t)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, signed(`{"project": "sales"}`, ts, "x"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), strconv.Itoa(common.RequestInvalid))
}
