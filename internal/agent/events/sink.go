package events

import (
	"context"
	"sync"
	"time"

	"github.com/fieldline/casesync/internal/logging"
)

// LogSink writes events to the structured log.
type LogSink struct {
	logger logging.Logger
}

// NewLogSink returns a sink logging each event at debug level.
func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) Emit(e Event) {
	s.logger.Debug(context.Background(), "sync event",
		"kind", string(e.Kind), "record", e.RecordGUID, "element", e.ElementID, "detail", e.Detail)
}

// BufferedSink decouples emitters from a possibly slow downstream sink.
// Events are handed off through a bounded channel; when the buffer is full
// the event is dropped and counted, never blocking the emitter.
type BufferedSink struct {
	ch      chan Event
	next    Sink
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.Mutex
	dropped int
}

// NewBufferedSink starts the forwarding goroutine with the given buffer size.
func NewBufferedSink(next Sink, size int) *BufferedSink {
	if size <= 0 {
		size = 256
	}
	s := &BufferedSink{ch: make(chan Event, size), next: next}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range s.ch {
			s.next.Emit(e)
		}
	}()
	return s
}

func (s *BufferedSink) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case s.ch <- e:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Dropped reports how many events were lost to a full buffer.
func (s *BufferedSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close flushes buffered events and stops the forwarding goroutine.
func (s *BufferedSink) Close() {
	s.once.Do(func() {
		close(s.ch)
		s.wg.Wait()
	})
}
