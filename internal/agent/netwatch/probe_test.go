package netwatch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldline/casesync/internal/logging"
	"github.com/stretchr/testify/assert"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.DiscardHandler))
}

func TestIsReachable(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	p := NewHTTPProbe(srv.URL, time.Minute, testLogger(), srv.Client())
	ctx := context.Background()

	assert.True(t, p.IsReachable(ctx))

	healthy.Store(false)
	assert.False(t, p.IsReachable(ctx))
}

func TestChangesSignalsOnFlip(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	p := NewHTTPProbe(srv.URL, time.Minute, testLogger(), srv.Client())
	ctx := context.Background()

	p.IsReachable(ctx) // first observation always signals
	<-p.Changes()

	// no flip, no signal
	p.IsReachable(ctx)
	select {
	case <-p.Changes():
		t.Fatal("unexpected change signal")
	default:
	}

	healthy.Store(true)
	p.IsReachable(ctx)
	select {
	case <-p.Changes():
	case <-time.After(time.Second):
		t.Fatal("expected change signal after flip")
	}
}

func TestUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewHTTPProbe(srv.URL, time.Minute, testLogger(), nil)
	assert.False(t, p.IsReachable(context.Background()))
}
