package httpmw

import (
	"net/http"
)

// MaxBody limits request bodies to n bytes. A declared Content-Length over
// the limit is refused with 413 before the handler runs; otherwise the
// handler sees *http.MaxBytesError when it reads past n.
func MaxBody(n int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if n > 0 && r.ContentLength > n {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			if n > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSONError writes {"error": msg}. Kept tiny so middleware need not
// depend on the api package.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}` + "\n"))
}
