package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanwhyte/build-hook/internal/service/pipeline"
	"github.com/nathanwhyte/build-hook/pkg/logger"
)

type fakePipeline struct {
	err      error
	notReady error
	slugs    []string
	callers  []string
}

func (p *fakePipeline) Trigger(ctx context.Context, slug string) (pipeline.Run, error) {
	p.slugs = append(p.slugs, slug)
	caller, _ := pipeline.CallerFromContext(ctx)
	p.callers = append(p.callers, caller)
	if p.err != nil {
		return pipeline.Run{Project: slug, State: pipeline.StateRejected}, p.err
	}
	return pipeline.Run{ID: "run-1", Project: slug, State: pipeline.StateLocked}, nil
}

func (p *fakePipeline) Ready() error { return p.notReady }

func newTestRouter(p *fakePipeline) *Router {
	return New(Options{
		Logger:   logger.Discard(),
		Pipeline: p,
		Tokens:   []string{"alpha", " beta "},
		Registry: prometheus.NewRegistry(),
	})
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthAlwaysOK(t *testing.T) {
	r := newTestRouter(&fakePipeline{notReady: errors.New("builder down")})

	rec := do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok"}, decode(t, rec))
}

func TestReadyReflectsBuilder(t *testing.T) {
	p := &fakePipeline{notReady: errors.New("builder down")}
	r := newTestRouter(p)

	rec := do(t, r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "builder down", decode(t, rec)["error"])

	p.notReady = nil
	rec = do(t, r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerStarted(t *testing.T) {
	p := &fakePipeline{}
	r := newTestRouter(p)

	rec := do(t, r, http.MethodPost, "/api", "beta")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "started", body["status"])
	assert.Equal(t, "api", body["project"])
	assert.Equal(t, "run-1", body["build_id"])
	assert.NotEmpty(t, body["message"])
	assert.Equal(t, []string{"token-2"}, p.callers)
}

func TestTriggerRequiresToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic alpha"},
		{"unknown token", "Bearer gamma"},
		{"prefix of token", "Bearer alph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{}
			req := httptest.NewRequest(http.MethodPost, "/api", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			newTestRouter(p).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Empty(t, p.slugs)
		})
	}
}

func TestTriggerErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w `nope`", pipeline.ErrUnknownProject), http.StatusNotFound},
		{fmt.Errorf("busy: %w", pipeline.ErrBuildInProgress), http.StatusConflict},
		{fmt.Errorf("%w: bootstrap", pipeline.ErrBuilderNotReady), http.StatusServiceUnavailable},
		{fmt.Errorf("%w for project `api`", pipeline.ErrLockMissing), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := do(t, newTestRouter(&fakePipeline{err: tt.err}), http.MethodPost, "/api", "alpha")
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.err.Error(), decode(t, rec)["error"])
		})
	}
}

func TestTriggerOnlyAcceptsPost(t *testing.T) {
	p := &fakePipeline{}
	rec := do(t, newTestRouter(p), http.MethodGet, "/api", "alpha")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, p.slugs)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(&fakePipeline{})
	do(t, r, http.MethodGet, "/health", "")

	rec := do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `buildhook_http_requests_total{method="GET",route="/health",status="200"} 1`))
}

func TestBearerToken(t *testing.T) {
	token, err := bearerToken("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = bearerToken("Bearer a b")
	assert.Error(t, err)
}
