package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"restaurant-system/internal/logger"
	"restaurant-system/internal/models"
)

type ownerKey struct{}

// Claims is the owner token issued by the authentication service
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticator verifies owner bearer tokens
type Authenticator struct {
	secret []byte
	logger *logger.Logger
}

// NewAuthenticator creates an HS256 token verifier
func NewAuthenticator(secret string, log *logger.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), logger: log}
}

// RequireOwner only lets a request through when its bearer token belongs to the
// restaurant named in the path
func (a *Authenticator) RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := logger.RequestIDFromContext(r.Context())

		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			WriteError(w, http.StatusUnauthorized, models.ErrUnauthorized.Error(), requestID)
			return
		}

		claims := &Claims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			return a.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil || claims.UserID == "" {
			a.logger.Warn("auth_failed", "Rejected owner token", requestID, map[string]interface{}{
				"path":   r.URL.Path,
				"reason": errString(err),
			})
			WriteError(w, http.StatusUnauthorized, models.ErrUnauthorized.Error(), requestID)
			return
		}

		if restaurantID := r.PathValue("restaurantID"); restaurantID != claims.UserID {
			a.logger.Warn("auth_forbidden", "Token does not own this restaurant", requestID, map[string]interface{}{
				"path":    r.URL.Path,
				"user_id": claims.UserID,
			})
			WriteError(w, http.StatusForbidden, models.ErrForbidden.Error(), requestID)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, claims.UserID)))
	})
}

// OwnerFromContext returns the authenticated owner id
func OwnerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerKey{}).(string)
	return id, ok
}

func errString(err error) string {
	if err == nil {
		return "token has no user_id"
	}
	return err.Error()
}
