// Package async provides safe goroutine helpers for fire-and-forget
// background work: panic recovery, timeout enforcement and error
// logging. Bounded fan-out belongs in errgroup; this package covers the
// cases where nobody is waiting for the result.
package async
