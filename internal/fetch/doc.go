// Package fetch performs the HTTP probes behind each watch.
//
// [Client] wraps a pooled [net/http.Client] with per-request timeouts and
// a 1MB body cap. It reports transport failures as errors and leaves the
// interpretation of status codes and bodies to the caller.
package fetch
