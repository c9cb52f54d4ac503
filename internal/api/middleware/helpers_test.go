package middleware_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
)

// ok answers 200 with a short body.
var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`{"ok":true}`))
})

// status answers with the given code.
func status(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

// routed mounts h under pattern on a chi router wrapped by mw, the way the API router does.
func routed(mw func(http.Handler) http.Handler, method, pattern string, h http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(mw)
	r.Method(method, pattern, h)
	return r
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
