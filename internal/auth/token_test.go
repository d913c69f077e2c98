package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	const secret = "s3cret"

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Middleware(secret)(ok)

	cases := []struct {
		name       string
		authHeader string
		target     string
		wantStatus int
	}{
		{"valid token", "Bearer s3cret", "/", http.StatusNoContent},
		{"lowercase scheme", "bearer s3cret", "/", http.StatusNoContent},
		{"missing header", "", "/", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", "/", http.StatusUnauthorized},
		{"no scheme", "s3cret", "/", http.StatusUnauthorized},
		{"basic scheme", "Basic s3cret", "/", http.StatusUnauthorized},
		{"empty token", "Bearer ", "/", http.StatusUnauthorized},
		{"query token", "", "/?access_token=s3cret", http.StatusNoContent},
		{"wrong query token", "", "/?access_token=nope", http.StatusUnauthorized},
		{"header wins over query", "Bearer nope", "/?access_token=s3cret", http.StatusUnauthorized},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, c.target, nil)
			if c.authHeader != "" {
				req.Header.Set("Authorization", c.authHeader)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != c.wantStatus {
				t.Errorf("got status %d, want %d", w.Code, c.wantStatus)
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}
