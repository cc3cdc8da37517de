package testutil

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kycvault/pkg/requestcontext"
)

// WithURLParams sets chi route parameters on req, for calling a handler
// method directly without a router. kv alternates names and values.
func WithURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// WithRequestID adds a request ID the way the request middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
