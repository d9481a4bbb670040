// Package sendfile emulates X-Sendfile style accelerated delivery in
// application code. Engine.Rewrite runs once per response, after the handler
// has produced its headers but before they are flushed: it consumes the
// directive headers, exposes the target through a secret symlink allocated by
// package linkstore, and turns the response into a redirect (or a 403 when the
// extension is refused). Collector.Collect is driven by an external scheduler
// and reclaims secret directories older than the expiry window.
package sendfile
