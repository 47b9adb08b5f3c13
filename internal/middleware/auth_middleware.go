package middleware

import (
	"context"
	"net/http"
	"strings"

	"hydra-fleet-server/internal/domain"
	"hydra-fleet-server/pkg/jwt"
	"hydra-fleet-server/pkg/response"
)

type contextKey string

const (
	UserIDKey contextKey = "userID"
	RoleKey   contextKey = "role"
)

// AuthMiddleware admits requests carrying a valid operator token. Device
// tokens are rejected here: they authenticate WebSocket sessions, not the
// console API.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwt.ValidateToken(parts[1], jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			if claims.UserID == "" {
				response.Unauthorized(w, "Operator token required")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates the mutating device operations.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if GetRole(r) != string(domain.RoleAdmin) {
			response.Forbidden(w, "Admin role required")
			return
		}
		next(w, r)
	}
}

func GetUserID(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

func GetRole(r *http.Request) string {
	role, ok := r.Context().Value(RoleKey).(string)
	if !ok {
		return ""
	}
	return role
}
