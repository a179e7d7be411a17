// Package httputil holds the JSON response writers, request parsing helpers
// and middleware used by every wrench HTTP handler.
//
// Handlers follow one shape:
//
//	func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
//		id, ok := httputil.ParsePathStringOrError(w, r, "id")
//		if !ok {
//			return
//		}
//		...
//		httputil.WriteSuccess(w, result)
//	}
//
// The server stacks RequestIDMiddleware, ActorMiddleware, LoggingMiddleware
// and RecoveryMiddleware in front of the router. ActorMiddleware trusts the
// X-Wrench-Actor header, so the service must sit behind an authenticating
// proxy.
package httputil
