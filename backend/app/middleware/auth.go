package middleware

import (
	"context"
	"net/http"
	"strings"

	jwtutil "dutlab/backend/app/jwt"
)

type ctxKey int

const (
	ClaimsKey ctxKey = iota + 1
	RequestIDKey
)

type Auth struct{ Signer *jwtutil.Signer }

func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := a.claims(r)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := a.claims(r)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if claims.Role != jwtutil.RoleAdmin {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) claims(r *http.Request) (*jwtutil.Claims, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return nil, false
	}
	claims, err := a.Signer.Parse(strings.TrimPrefix(authz, "Bearer "))
	if err != nil {
		return nil, false
	}
	return claims, true
}
