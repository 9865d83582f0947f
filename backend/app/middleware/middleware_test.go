package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	jwtutil "dutlab/backend/app/jwt"
	"dutlab/backend/app/observability"
	"dutlab/internal/testutil/testlog"
)

func TestAuthRoles(t *testing.T) {
	signer := &jwtutil.Signer{Secret: []byte("k"), Issuer: "dutlab", ExpMin: 5}
	auth := &Auth{Signer: signer}
	var seen *jwtutil.Claims
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r.Context())
	})

	operator, _ := signer.Sign(3, "tech", "operator")
	admin, _ := signer.Sign(1, "admin", jwtutil.RoleAdmin)

	cases := []struct {
		name  string
		h     http.Handler
		token string
		want  int
	}{
		{"auth without token", auth.RequireAuth(ok), "", http.StatusUnauthorized},
		{"auth with garbage", auth.RequireAuth(ok), "garbage", http.StatusUnauthorized},
		{"auth with operator", auth.RequireAuth(ok), operator, http.StatusOK},
		{"admin without token", auth.RequireAdmin(ok), "", http.StatusUnauthorized},
		{"admin with operator", auth.RequireAdmin(ok), operator, http.StatusForbidden},
		{"admin with admin", auth.RequireAdmin(ok), admin, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			tc.h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusOK && seen == nil {
				t.Fatal("claims not attached to context")
			}
		})
	}
}

func TestLoggingAssignsRequestID(t *testing.T) {
	observability.RegisterMetrics()
	var got string
	h := Logging(testlog.Logger(t), WithRoute("GET /ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if got == "" || rec.Header().Get("X-Request-ID") != got {
		t.Fatalf("request id %q header %q", got, rec.Header().Get("X-Request-ID"))
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "fixed-id" {
		t.Fatalf("incoming request id not kept: %q", got)
	}
}
