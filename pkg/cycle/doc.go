// Package cycle implements the request cycle: the state machine that turns
// one request into exactly one response.
//
// A Controller holds the processor, the exception responder, output
// filters and listeners. Each request gets its own Cycle:
//
//	ctl := cycle.NewController(cycle.Config{
//	    Processor: app,
//	    Responder: app,
//	})
//	err := ctl.Serve(ctx, req, resp, sess)
//
// Targets write to a Buffer. The buffer is flushed through the filters at
// cleanup, after every target has been released and a dirty session has
// been committed.
//
// Navigation is an outcome rather than a fault: a step returning
// RestartWith(t) responds with t and never reaches the exception
// responder.
package cycle
