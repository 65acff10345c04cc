// Package sync contains the upload engine: the credential gate, the chunked
// attachment uploader, and the queue manager that drives records through
// them one at a time.
package sync

import (
	"context"
	gosync "sync"

	"github.com/fieldline/casesync/internal/agent/events"
	"github.com/fieldline/casesync/internal/agent/mds"
	"github.com/fieldline/casesync/internal/logging"
)

// ValidationResult is the outcome of a credential check.
type ValidationResult int

const (
	CredentialsNoConnection ValidationResult = 0
	CredentialsInvalid      ValidationResult = 1
	CredentialsValid        ValidationResult = 2
)

func (v ValidationResult) String() string {
	switch v {
	case CredentialsNoConnection:
		return "NO_CONNECTION"
	case CredentialsInvalid:
		return "INVALID"
	case CredentialsValid:
		return "VALID"
	default:
		return "UNKNOWN"
	}
}

// CredentialGate validates stored credentials against the dispatch server
// before any content transfer. A VALID outcome is cached for the session;
// NO_CONNECTION and INVALID are never cached, so the next activation
// re-checks. Changing credentials resets the cache.
type CredentialGate struct {
	channel mds.Channel
	sink    events.Sink
	logger  logging.Logger

	mu    gosync.Mutex
	creds mds.Credentials
	valid bool
}

// NewCredentialGate builds a gate around the channel with initial credentials.
func NewCredentialGate(channel mds.Channel, creds mds.Credentials, sink events.Sink, logger logging.Logger) *CredentialGate {
	return &CredentialGate{
		channel: channel,
		creds:   creds,
		sink:    sink,
		logger:  logger.With("component", "credentials"),
	}
}

// Validate checks the credentials, short-circuiting on a cached VALID.
func (g *CredentialGate) Validate(ctx context.Context) ValidationResult {
	g.mu.Lock()
	creds := g.creds
	cached := g.valid
	g.mu.Unlock()

	if cached {
		return CredentialsValid
	}

	result, err := g.channel.ValidateCredentials(ctx, creds)
	if err != nil {
		g.logger.Warn(ctx, "credential check could not reach server", "error", err)
		return CredentialsNoConnection
	}
	if result.Failed() {
		if result.Code == mds.CodeInvalidCredentials {
			g.logger.Warn(ctx, "credentials rejected by dispatch server")
			return CredentialsInvalid
		}
		g.logger.Warn(ctx, "credential check failed", "code", result.Code)
		return CredentialsNoConnection
	}

	g.mu.Lock()
	// only cache if the credentials were not swapped mid-check
	if g.creds == creds {
		g.valid = true
	}
	g.mu.Unlock()

	g.sink.Emit(events.Event{Kind: events.CredentialsValidated})
	return CredentialsValid
}

// SetCredentials replaces the stored credentials and drops the cached outcome.
func (g *CredentialGate) SetCredentials(creds mds.Credentials) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creds = creds
	g.valid = false
}

// Invalidate drops the cached outcome, forcing the next Validate to re-check.
func (g *CredentialGate) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.valid = false
}
