package authtest

import (
	"net/http"

	"github.com/gorilla/mux"
)

const requestIDHeader = "X-Request-ID"

func (s *Server) middleware() []mux.MiddlewareFunc {
	return []mux.MiddlewareFunc{
		s.recoverMiddleware,
		s.loggingMiddleware,
	}
}

// loggingMiddleware logs each route and records the request ID the client
// sent, so tests can check that a retry reuses it.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", requestID).
			Msg("fake api request")

		s.mu.Lock()
		s.requestIDs[r.URL.Path] = append(s.requestIDs[r.URL.Path], requestID)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("fake api handler panicked")
				writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestIDs returns the X-Request-ID values received for path, in order.
func (s *Server) RequestIDs(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requestIDs[path]...)
}
