package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func callWithHeader(t *testing.T, cfg JWTConfig, header string, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if handler == nil {
		handler = func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	}
	return JWTMiddleware(cfg)(handler)(c)
}

func assertStatus(t *testing.T, err error, want int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d error, got nil", want)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != want {
		t.Errorf("expected %d, got %d", want, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	err := callWithHeader(t, JWTConfig{SigningKey: testSigningKey}, "", nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := callWithHeader(t, JWTConfig{SigningKey: testSigningKey}, tt.header, nil)
			assertStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "records"}
	token, err := IssueToken(cfg, "user-42", []string{RoleSecretary}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	var gotUser string
	var gotRoles []string
	err = callWithHeader(t, cfg, "Bearer "+token, func(c echo.Context) error {
		gotUser = UserIDFromContext(c.Request().Context())
		gotRoles = RolesFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "user-42" {
		t.Errorf("expected user-42, got %q", gotUser)
	}
	if len(gotRoles) != 1 || gotRoles[0] != RoleSecretary {
		t.Errorf("expected [secretary], got %v", gotRoles)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Roles: []string{RoleAdmin},
	}
	token := createTestToken(t, claims, testSigningKey)
	err := callWithHeader(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token, nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_MissingExpiry(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}
	token := createTestToken(t, claims, testSigningKey)
	err := callWithHeader(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token, nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := createTestToken(t, claims, []byte("another-key-entirely-000000000000"))
	err := callWithHeader(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token, nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	token, err := IssueToken(JWTConfig{SigningKey: testSigningKey, Issuer: "someone-else"}, "user-1", nil, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	err = callWithHeader(t, JWTConfig{SigningKey: testSigningKey, Issuer: "records"}, "Bearer "+token, nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_DropsUnknownRoles(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"superuser", RoleSecretary},
	}
	token := createTestToken(t, claims, testSigningKey)

	var gotRoles []string
	err := callWithHeader(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token, func(c echo.Context) error {
		gotRoles = RolesFromContext(c.Request().Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotRoles) != 1 || gotRoles[0] != RoleSecretary {
		t.Errorf("expected [secretary], got %v", gotRoles)
	}
}

func TestJWTMiddleware_RequiresSubject(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token := createTestToken(t, claims, testSigningKey)
	err := callWithHeader(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token, nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_ChallengeHeader(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error { return nil })(c)
	assertStatus(t, err, http.StatusUnauthorized)
	if got := rec.Header().Get(echo.HeaderWWWAuthenticate); got != `Bearer realm="records"` {
		t.Errorf("unexpected WWW-Authenticate %q", got)
	}
}

func TestIssueToken_UniqueIDAndKnownRoles(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey}
	a, err := IssueToken(cfg, "u", []string{RoleAdmin}, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	b, _ := IssueToken(cfg, "u", []string{RoleAdmin}, time.Minute)
	ca, _ := ParseToken(cfg, a)
	cb, _ := ParseToken(cfg, b)
	if ca.ID == "" || ca.ID == cb.ID {
		t.Errorf("expected distinct token ids, got %q and %q", ca.ID, cb.ID)
	}

	if _, err := IssueToken(cfg, "u", []string{"root"}, time.Minute); err == nil {
		t.Error("expected unknown role to be rejected")
	}
}

func TestParseToken_NoKey(t *testing.T) {
	if _, err := ParseToken(JWTConfig{}, "anything"); err == nil {
		t.Error("expected error without signing key")
	}
	if _, err := IssueToken(JWTConfig{}, "u", nil, time.Minute); err == nil {
		t.Error("expected error issuing without signing key")
	}
}
