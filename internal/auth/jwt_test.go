package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"virtualcare-platform/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:      "secret",
		JWTIssuer:      "issuer",
		JWTAudience:    "aud",
		AccessTokenTTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueAccess(now, "nurse-1", "Nurse Joy", "nurse")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "nurse-1" || claims.DisplayName != "Nurse Joy" || claims.Role != "nurse" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.Verify(tok, TokenTypeAccess, now.Add(20*time.Minute)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})
	now := time.Now()
	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		UserID:    "u",
		TokenType: TokenTypeRefresh,
	})
	s, err := refresh.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(s, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestVerifyRejectsForeignSecretAndAudience(t *testing.T) {
	now := time.Now()
	other, _ := NewManager(config.AuthConfig{JWTSecret: "other"})
	tok, _ := other.IssueAccess(now, "u", "", "nurse")

	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})
	if _, err := m.Verify(tok, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected signature failure")
	}

	issuer, _ := NewManager(config.AuthConfig{JWTSecret: "secret", JWTAudience: "billing"})
	tok, _ = issuer.IssueAccess(now, "u", "", "nurse")
	strict, _ := NewManager(config.AuthConfig{JWTSecret: "secret", JWTAudience: "calls"})
	if _, err := strict.Verify(tok, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected audience mismatch")
	}
}

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})

	r := gin.New()
	r.GET("/me", RequireAccessToken(m), func(c *gin.Context) {
		uid, _ := UserID(c.Request.Context())
		role, _ := Role(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role, "name": DisplayName(c.Request.Context())})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	tok, _ := m.IssueAccess(time.Now(), "nurse-1", "Nurse Joy", "nurse")
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", w.Code)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for in, want := range cases {
		got, ok := bearerToken(in)
		if got != want || ok != (want != "") {
			t.Fatalf("bearerToken(%q) = %q, %v", in, got, ok)
		}
	}
}
