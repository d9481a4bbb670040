// Package server hosts the Fiber HTTP service that plays the host-application
// role for the sendfile engine: it assigns request IDs, runs Engine.Rewrite
// once per response after the handler chain has produced its headers, serves
// the link directory so the emitted redirects resolve, and mounts the
// configured download routes. Keep exports narrow and accept explicit
// dependencies so tests can build an app around a temporary link directory.
package server
