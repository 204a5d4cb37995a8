package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		TenantID: "tenant-1",
		Scopes:   []string{"agent"},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestAuthMiddleware(t *testing.T) {
	valid := signToken(t, testSecret, "agent-1", time.Now().Add(time.Hour))
	expired := signToken(t, testSecret, "agent-1", time.Now().Add(-time.Hour))
	wrongKey := signToken(t, "other", "agent-1", time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser, gotTenant string
			h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = GetUserID(r.Context())
				gotTenant = GetTenantID(r.Context())
				if !HasScope(r.Context(), "agent") {
					t.Errorf("scope not propagated")
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && (gotUser != "agent-1" || gotTenant != "tenant-1") {
				t.Fatalf("claims not in context: user=%q tenant=%q", gotUser, gotTenant)
			}
		})
	}
}

func TestTokenAuthenticator(t *testing.T) {
	a := TokenAuthenticator{Secret: testSecret}
	token := signToken(t, testSecret, "u1", time.Now().Add(time.Hour))

	tests := []struct {
		name    string
		userID  string
		token   string
		want    string
		wantErr bool
	}{
		{name: "matching subject", userID: "u1", token: token, want: "u1"},
		{name: "subject adopted", userID: "", token: token, want: "u1"},
		{name: "mismatched subject", userID: "u2", token: token, wantErr: true},
		{name: "missing token", userID: "u1", token: "", wantErr: true},
		{name: "garbage token", userID: "u1", token: "not-a-jwt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Authenticate(context.Background(), tt.userID, tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrTokenRejected) {
					t.Fatalf("expected ErrTokenRejected, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	h := RequireScope("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), ScopesKey, []string{"agent"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
