package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"restaurant-system/internal/logger"
)

const testSecret = "test-secret"

func testLogger() *logger.Logger {
	return logger.NewWithWriter("middleware-test", io.Discard)
}

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, userID string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func ownerMux(a *Authenticator, seen *string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /api/restaurants/{restaurantID}/orders", a.RequireOwner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen, _ = OwnerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})))
	return mux
}

func TestRequireOwner(t *testing.T) {
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "u_demo", time.Now().Add(time.Hour))

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantOwner  string
	}{
		{
			name:       "owner token",
			path:       "/api/restaurants/u_demo/orders",
			header:     "Bearer " + valid,
			wantStatus: http.StatusOK,
			wantOwner:  "u_demo",
		},
		{
			name:       "other restaurant",
			path:       "/api/restaurants/u_other/orders",
			header:     "Bearer " + valid,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "no header",
			path:       "/api/restaurants/u_demo/orders",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "not bearer",
			path:       "/api/restaurants/u_demo/orders",
			header:     "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			path:       "/api/restaurants/u_demo/orders",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), "u_demo", time.Now().Add(time.Hour)),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired",
			path:       "/api/restaurants/u_demo/orders",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "u_demo", time.Now().Add(-time.Minute)),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong algorithm",
			path:       "/api/restaurants/u_demo/orders",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), "u_demo", time.Now().Add(time.Hour)),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing user id",
			path:       "/api/restaurants/u_demo/orders",
			header:     "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "", time.Now().Add(time.Hour)),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			mux := ownerMux(NewAuthenticator(testSecret, testLogger()), &seen)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if seen != tt.wantOwner {
				t.Errorf("owner = %q, want %q", seen, tt.wantOwner)
			}
		})
	}
}
