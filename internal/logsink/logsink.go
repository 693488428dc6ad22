// Package logsink is the fire-and-forget destination for rejection and
// connection records. Sessions never block on it: a full queue drops the
// newest record and bumps a counter instead of applying backpressure.
package logsink

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// RejectionRecord is a single policy rejection, queued for durable storage.
type RejectionRecord struct {
	EventID   string
	PubKeyHex string
	Npub      string
	IP        string
	Kind      int64
	Reason    string
	At        time.Time
}

// ConnectionRecord summarizes one finished session for the admin log view.
type ConnectionRecord struct {
	IP             string
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	EventCount     int64
	RejectedCount  int64
}

// Writer is the durable collaborator records are eventually persisted to,
// typically a SQL repository. It runs on the sink's own goroutine, off the
// hot path of every session.
type Writer interface {
	WriteRejection(ctx context.Context, r RejectionRecord) error
	WriteConnection(ctx context.Context, r ConnectionRecord) error
}

// Sink owns two bounded channels and a background goroutine that drains
// them into Writer. PushRejection and PushConnection never block: past
// capacity they drop the newest record and increment Dropped.
type Sink struct {
	writer      Writer
	rejections  chan RejectionRecord
	connections chan ConnectionRecord
	dropped     atomic.Int64
	done        chan struct{}
}

// New starts a Sink with the given per-channel queue depth.
func New(writer Writer, queueDepth int) *Sink {
	s := &Sink{
		writer:      writer,
		rejections:  make(chan RejectionRecord, queueDepth),
		connections: make(chan ConnectionRecord, queueDepth),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

// PushRejection enqueues r, or drops it if the queue is full.
func (s *Sink) PushRejection(r RejectionRecord) {
	select {
	case s.rejections <- r:
	default:
		s.dropped.Add(1)
		slog.Warn("rejection log queue full, dropping record", "event_id", r.EventID)
	}
}

// PushConnection enqueues r, or drops it if the queue is full.
func (s *Sink) PushConnection(r ConnectionRecord) {
	select {
	case s.connections <- r:
	default:
		s.dropped.Add(1)
		slog.Warn("connection log queue full, dropping record", "ip", r.IP)
	}
}

// Dropped reports the cumulative number of records dropped for backpressure,
// surfaced as a metric.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Close signals the drain goroutine to flush the records already enqueued
// and then stop; it returns without waiting for that flush. Records pushed
// after the drain goroutine has stopped are never written.
func (s *Sink) Close() {
	close(s.done)
}

func (s *Sink) run() {
	ctx := context.Background()
	for {
		select {
		case r := <-s.rejections:
			if err := s.writer.WriteRejection(ctx, r); err != nil {
				slog.Error("failed to persist rejection record", "error", err, "event_id", r.EventID)
			}
		case c := <-s.connections:
			if err := s.writer.WriteConnection(ctx, c); err != nil {
				slog.Error("failed to persist connection record", "error", err, "ip", c.IP)
			}
		case <-s.done:
			s.drainRemaining(ctx)
			return
		}
	}
}

func (s *Sink) drainRemaining(ctx context.Context) {
	for {
		select {
		case r := <-s.rejections:
			if err := s.writer.WriteRejection(ctx, r); err != nil {
				slog.Error("failed to persist rejection record during drain", "error", err, "event_id", r.EventID)
			}
		case c := <-s.connections:
			if err := s.writer.WriteConnection(ctx, c); err != nil {
				slog.Error("failed to persist connection record during drain", "error", err, "ip", c.IP)
			}
		default:
			return
		}
	}
}
