// Package httputil provides the JSON replies, request parsing and middleware
// shared by the debug endpoints of a running host.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, graph)
//	httputil.WriteNotFoundError(w, "no plan for 3")
//	httputil.WriteBadRequest(w, "invalid direction")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
