package api

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func protectedHandler(cfg AuthConfig, roles ...string) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := GetPrincipal(r.Context())
		writeJSON(w, http.StatusOK, map[string]string{"user_id": principal.UserID, "role": principal.Role})
	})
	if len(roles) > 0 {
		return AuthMiddleware(cfg)(RequireRoles(roles...)(inner))
	}
	return AuthMiddleware(cfg)(inner)
}

func callWithToken(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddlewareHMAC(t *testing.T) {
	cfg := AuthConfig{HMACSecret: testSecret, Issuer: "https://auth.ticketmarket.test"}
	h := protectedHandler(cfg)

	withIssuer := func(iss string, exp time.Duration, secret string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  "user_1",
			"role": "Organizer",
			"iss":  iss,
			"exp":  time.Now().Add(exp).Unix(),
		})
		signed, err := token.SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return signed
	}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "not bearer", header: "Token abc", status: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer abc.def.ghi", status: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + withIssuer(cfg.Issuer, time.Hour, "other"), status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + withIssuer(cfg.Issuer, -time.Hour, testSecret), status: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + withIssuer("https://evil.test", time.Hour, testSecret), status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + withIssuer(cfg.Issuer, time.Hour, testSecret), status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := callWithToken(h, tt.header)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}

	rec := callWithToken(h, "Bearer "+withIssuer(cfg.Issuer, time.Hour, testSecret))
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["user_id"] != "user_1" || body["role"] != RoleOrganizer {
		t.Fatalf("expected normalized principal, got %+v", body)
	}
}

func TestRequireRoles(t *testing.T) {
	h := protectedHandler(AuthConfig{HMACSecret: testSecret}, RoleAdmin)

	if rec := callWithToken(h, "Bearer "+signToken(t, "user_2", RoleOrganizer, time.Hour)); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for organizer, got %d", rec.Code)
	}
	if rec := callWithToken(h, "Bearer "+signToken(t, "user_3", RoleAdmin, time.Hour)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestAuthMiddlewareJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var fetches int32
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"keys": []map[string]string{{
				"kid": "key-1",
				"kty": "RSA",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	defer jwks.Close()

	sign := func(kid string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"sub":  "user_rsa",
			"role": RoleScanner,
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		token.Header["kid"] = kid
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return signed
	}

	h := protectedHandler(AuthConfig{JWKSURL: jwks.URL})
	for i := 0; i < 3; i++ {
		if rec := callWithToken(h, "Bearer "+sign("key-1")); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	}
	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Fatalf("expected signing keys to be cached, fetched %d times", got)
	}

	if rec := callWithToken(h, "Bearer "+sign("key-unknown")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown kid, got %d", rec.Code)
	}

	// HMAC tokens are refused when no shared secret is configured.
	if rec := callWithToken(h, "Bearer "+signToken(t, "user_x", RoleAdmin, time.Hour)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for HMAC token without secret, got %d", rec.Code)
	}
}

func TestParseRSAPublicKey(t *testing.T) {
	if _, err := parseRSAPublicKey("!!", "AQAB"); err == nil {
		t.Fatalf("expected modulus decode error")
	}
	if _, err := parseRSAPublicKey("AQAB", ""); err == nil {
		t.Fatalf("expected invalid exponent error")
	}
	pub, err := parseRSAPublicKey(base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00}), "AQAB")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pub.E != 65537 || pub.N.Int64() != 256 {
		t.Fatalf("unexpected key: e=%d n=%s", pub.E, pub.N)
	}
}
