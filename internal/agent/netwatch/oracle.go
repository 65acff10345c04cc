// Package netwatch answers one question for the sync workers: can the
// dispatch server be reached right now. It also broadcasts reachability
// transitions so a suspended worker can wake up as soon as coverage returns
// instead of waiting out its full poll interval.
package netwatch

import "context"

// Oracle reports current network reachability.
type Oracle interface {
	// IsReachable probes connectivity. It must be cheap enough to call
	// before every work unit.
	IsReachable(ctx context.Context) bool

	// Changes returns a channel that receives a signal whenever
	// reachability flips. May return nil if the implementation does not
	// support change notification; callers must handle that.
	Changes() <-chan struct{}
}
