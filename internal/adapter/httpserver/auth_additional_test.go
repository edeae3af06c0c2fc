package httpserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resumecore/ingestion-core/internal/config"
)

func TestSessionManager_CreateAndValidateSession_Success(t *testing.T) {
	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)

	val, err := sm.CreateSession("admin")
	require.NoError(t, err)
	require.NotEmpty(t, val)

	sd, err := sm.ValidateSession(val)
	require.NoError(t, err)
	require.Equal(t, "admin", sd.Username)
	require.True(t, sd.ExpiresAt.After(time.Now()))
}

func TestSessionManager_ValidateSession_InvalidSignature(t *testing.T) {
	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)

	val, err := sm.CreateSession("admin")
	require.NoError(t, err)

	// Corrupt the signature part
	parts := []byte(val)
	if len(parts) > 0 {
		parts[len(parts)-1] ^= 0xFF
	}
	_, err = sm.ValidateSession(string(parts))
	require.Error(t, err)
}

func TestSessionManager_ValidateSession_Expired(t *testing.T) {
	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)

	// Manually craft an already expired payload and sign it with the same secret
	payload := "admin:1:2" // loginTime=1, expiresAt=2 (unix seconds)
	mac := hmac.New(sha256.New, sm.secret)
	mac.Write([]byte(payload))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	val := payload + "." + sig

	_, err := sm.ValidateSession(val)
	require.Error(t, err)
}

func TestSessionManager_SetAndClearSessionCookie_NoOp(t *testing.T) {
	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)

	rec := httptest.NewRecorder()
	sm.SetSessionCookie(rec, "value")
	sm.ClearSessionCookie(rec)

	// Deprecated methods are no-ops; they should not set any cookies
	resp := rec.Result()
	require.Empty(t, resp.Cookies())
}

func TestValidateJWT_EmptyToken(t *testing.T) {
	t.Parallel()

	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)
	_, err := sm.ValidateJWT("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty token")
}

func TestValidateJWT_InvalidParts(t *testing.T) {
	t.Parallel()

	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)
	_, err := sm.ValidateJWT("invalid.token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid token")
}

func TestValidateJWT_BadSignatureEncoding(t *testing.T) {
	t.Parallel()

	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)
	// Token with invalid base64 in signature
	_, err := sm.ValidateJWT("header.payload.!!!invalid!!!")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad signature encoding")
}

func TestValidateJWT_InvalidSignature(t *testing.T) {
	t.Parallel()

	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)
	// Generate a valid token then modify the signature
	token, err := sm.GenerateJWT("testuser", time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	// Modify the signature
	modifiedToken := parts[0] + "." + parts[1] + ".wrongsignature"
	_, err = sm.ValidateJWT(modifiedToken)
	require.Error(t, err)
}

func TestValidateJWT_ExpiredToken(t *testing.T) {
	t.Parallel()

	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)
	// Generate a token with very short duration
	token, err := sm.GenerateJWT("testuser", 1*time.Millisecond)
	require.NoError(t, err)

	// Wait for token to expire
	time.Sleep(10 * time.Millisecond)

	_, err = sm.ValidateJWT(token)
	require.Error(t, err)
	require.Contains(t, err.Error(), "token expired")
}

func TestValidateJWT_ValidToken(t *testing.T) {
	t.Parallel()

	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)
	token, err := sm.GenerateJWT("testuser", time.Hour)
	require.NoError(t, err)

	sub, err := sm.ValidateJWT(token)
	require.NoError(t, err)
	require.Equal(t, "testuser", sub)
}

func TestSetSessionCookie_NoOp(t *testing.T) {
	t.Parallel()

	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)

	rec := httptest.NewRecorder()
	sm.SetSessionCookie(rec, "test-value")

	// Should be a no-op, no cookies set
	cookies := rec.Result().Cookies()
	require.Empty(t, cookies)
}

func TestClearSessionCookie_NoOp(t *testing.T) {
	t.Parallel()

	cfg := config.Config{AdminSessionSecret: "secret"}
	sm := NewSessionManager(cfg)

	rec := httptest.NewRecorder()
	sm.ClearSessionCookie(rec)

	// Should be a no-op, no cookies set
	cookies := rec.Result().Cookies()
	require.Empty(t, cookies)
}

func TestTenantAuth_RejectsMissingBearer(t *testing.T) {
	s := &Server{Cfg: config.Config{AdminSessionSecret: "secret"}}
	guard := s.TenantAuth()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload/submit", nil)

	called := false
	h := guard(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(rec, req)

	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rec.Result().StatusCode)
}

func TestTenantAuth_AllowsValidBearer(t *testing.T) {
	cfg := config.Config{AdminSessionSecret: "secret"}
	s := &Server{Cfg: cfg}
	sm := NewSessionManager(cfg)
	token, err := sm.GenerateJWT("tenant-123", time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload/submit", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	var gotTenantID string
	h := s.TenantAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenantID = TenantIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Result().StatusCode)
	require.Equal(t, "tenant-123", gotTenantID)
}
