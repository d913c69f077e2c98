package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// QueryParam carries the token for clients that cannot set headers, such as
// browser websockets.
const QueryParam = "access_token"

// Middleware rejects requests whose Bearer token (or access_token query
// parameter) does not match token. It plugs into chi's r.Use.
func Middleware(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearer(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="spidergroup"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
			return "", false
		}
		return tok, true
	}
	if tok := r.URL.Query().Get(QueryParam); tok != "" {
		return tok, true
	}
	return "", false
}
