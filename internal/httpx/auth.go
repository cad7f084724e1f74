package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKeyAdmin struct{}

// AdminOnly guards the payment review endpoints: requests need a valid HMAC
// bearer token carrying role=admin. The token subject is recorded as the
// reviewer on confirm/reject.
func AdminOnly(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimPrefix(auth, "Bearer ")

			claims := &AdminClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if claims.Role != RoleAdmin {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyAdmin{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func AdminFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyAdmin{}).(string); ok {
		return v
	}
	return ""
}

func ContextWithAdmin(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, ctxKeyAdmin{}, login)
}
