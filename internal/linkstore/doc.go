// Package linkstore owns the on-disk link directory: LinkDir/<secret>/<filename>,
// where every secret directory holds exactly one symlink to a private source
// file. Directory creation is the only exclusive mutation and relies on the
// filesystem's atomic "create if absent" semantics instead of an in-process
// lock, so concurrent rewrites across goroutines or processes never share a
// secret. The store also lists and removes secret directories so that the
// collector in package sendfile can reclaim expired links.
package linkstore
