package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumecore/ingestion-core/internal/domain"
)

func testConfig(name, baseURL string) Config {
	return Config{
		Name:                   name,
		BaseURL:                baseURL,
		APIKey:                 "test-key",
		Model:                  "gpt-4o-mini",
		Timeout:                5 * time.Second,
		CBFailureThreshold:     5,
		CBCooldown:             30 * time.Second,
		BackoffMaxElapsedTime:  2 * time.Second,
		BackoffInitialInterval: 10 * time.Millisecond,
		BackoffMaxInterval:     50 * time.Millisecond,
		BackoffMultiplier:      2.0,
	}
}

func TestClient_Generate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: `{"name":"Jane"}`}}},
		})
	}))
	defer srv.Close()

	c := New(testConfig("primary", srv.URL))
	out, err := c.Generate(context.Background(), "extract this resume", `{"name":"string"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Jane"}`, out)
}

func TestClient_Generate_RetriesOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: `{"ok":true}`}}},
		})
	}))
	defer srv.Close()

	c := New(testConfig("primary", srv.URL))
	out, err := c.Generate(context.Background(), "prompt", "{}")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, out)
	assert.Equal(t, 3, calls)
}

func TestClient_Generate_PermanentOnUnauthorized(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	c := New(testConfig("primary", srv.URL))
	_, err := c.Generate(context.Background(), "prompt", "{}")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClient_Generate_CircuitOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testConfig("primary", srv.URL)
	cfg.CBFailureThreshold = 1
	c := New(cfg)

	_, err := c.Generate(context.Background(), "prompt", "{}")
	require.Error(t, err)

	_, err = c.Generate(context.Background(), "prompt", "{}")
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestClient_Embed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(embedResponse{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
			}{{Embedding: []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	c := New(testConfig("embedding", srv.URL))
	vec, err := c.Embed(context.Background(), "some resume text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestClient_Embed_EmptyDataIsSchemaInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	cfg := testConfig("embedding", srv.URL)
	cfg.BackoffMaxElapsedTime = 50 * time.Millisecond
	c := New(cfg)
	_, err := c.Embed(context.Background(), "text")
	require.ErrorIs(t, err, domain.ErrSchemaInvalid)
}

func TestManager_Providers_SkipsNil(t *testing.T) {
	c := New(testConfig("primary", "http://localhost"))
	m := Manager{Primary: c}
	assert.Len(t, m.Providers(), 1)

	m2 := Manager{Primary: c, Secondary: c, Tertiary: c}
	assert.Len(t, m2.Providers(), 3)
}

func TestClient_Name(t *testing.T) {
	c := New(testConfig("secondary", "http://localhost"))
	assert.Equal(t, "secondary", c.Name())
}
