package httpmw

import (
	"errors"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

// Recover turns a handler panic into a logged error and a 500. onPanic,
// when set, is called once per recovered panic. http.ErrAbortHandler is
// re-panicked so net/http can abort the connection quietly.
func Recover(base log.Logger, onPanic func()) Middleware {
	if base == nil {
		base = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if e, ok := rec.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(rec)
				}
				if onPanic != nil {
					onPanic()
				}

				var err error
				if e, ok := rec.(error); ok {
					err = xerrors.Wrap(e, "panic")
				} else {
					err = xerrors.Newf("panic: %v", rec)
				}
				base.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
				).Error(r.Context(), xerrors.EnsureTrace(err), "httpserver panic recovered")

				writeJSONError(w, http.StatusInternalServerError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
