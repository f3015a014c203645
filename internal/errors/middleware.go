package errors

import "net/http"

// RequestIDHeader carries the request ID on both the inbound request and the
// response. Client-supplied IDs are trusted as-is for log correlation.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware makes the request ID available to every downstream
// handler and echoes it back on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = GenerateRequestID()
		}

		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// Handler is an http handler that reports failures as error values instead of
// writing them itself.
type Handler func(w http.ResponseWriter, r *http.Request) error

// HandleFunc adapts a Handler for the router, rendering any returned error as
// the uniform JSON error body.
func HandleFunc(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			WriteError(w, GetRequestID(r.Context()), err)
		}
	}
}
