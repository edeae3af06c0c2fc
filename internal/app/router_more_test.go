package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	httpserver "github.com/resumecore/ingestion-core/internal/adapter/httpserver"
	qdrantcli "github.com/resumecore/ingestion-core/internal/adapter/vector/qdrant"
	"github.com/resumecore/ingestion-core/internal/app"
	"github.com/resumecore/ingestion-core/internal/config"
)

func TestBuildRouter_Readyz(t *testing.T) {
	cfg := config.Config{Port: 8080}
	srv := httpserver.NewServer(cfg, nil, nil,
		func(_ context.Context) error { return nil },
		func(_ context.Context) error { return nil },
		func(_ context.Context) error { return nil },
	)
	h := app.BuildRouter(cfg, srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("/readyz: want 200, got %d", rec.Result().StatusCode)
	}
}

func TestEnsureCandidatesCollection_NoPanic(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()
	q := qdrantcli.New(ts.URL, "")
	app.EnsureCandidatesCollection(context.Background(), q)
}
