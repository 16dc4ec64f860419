package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireAny(t *testing.T) {
	keys := Keys{Public: []string{"pub_key"}, Admin: []string{"adm_key"}}
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"public via header", "X-API-Key", "pub_key", http.StatusOK},
		{"admin via bearer", "Authorization", "Bearer adm_key", http.StatusOK},
		{"lowercase bearer", "Authorization", "bearer pub_key", http.StatusOK},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"no key", "", "", http.StatusUnauthorized},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/egress", nil)
			if c.header != "" {
				req.Header.Set(c.header, c.value)
			}
			rec := httptest.NewRecorder()
			RequireAny(keys)(okHandler).ServeHTTP(rec, req)
			if rec.Code != c.want {
				t.Fatalf("want %d got %d", c.want, rec.Code)
			}
		})
	}

	// no keys configured -> open
	rec := httptest.NewRecorder()
	RequireAny(Keys{})(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("open mode should pass; got %d", rec.Code)
	}
}
