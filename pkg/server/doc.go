// Package server is the HTTP transport of a page application.
//
// A Server routes every request that is not a health, metrics or
// WebSocket request into one request cycle. The session is found through
// a cookie, and the cycle's buffered response is copied to the
// http.ResponseWriter when the cycle flushes it.
//
// # WebSocket
//
// The WebSocket endpoint carries listener invocations without a page
// reload. Each inbound frame runs one cycle:
//
//	{"id": 7, "pagemap": "main", "page": 0, "version": 3,
//	 "component": "cart:add", "listener": "click"}
//
// and is answered with the rendered markup or a redirect:
//
//	{"id": 7, "status": 200, "contentType": "text/html; charset=utf-8",
//	 "body": "..."}
//
// # Lifecycle
//
//	srv := server.New(ctl, sessions, server.DefaultConfig(), logger)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Run returns when ctx is cancelled, after Shutdown has persisted dirty
// sessions and drained in-flight requests.
package server
