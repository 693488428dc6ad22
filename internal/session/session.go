// Package session implements one proxied client connection: the Opening,
// Ready, Draining, Closed state machine, NIP-01 message dispatch through
// the policy pipeline, and the single upstream link each session owns.
package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrguard/proxy/internal/eventview"
	"github.com/nostrguard/proxy/internal/logsink"
	"github.com/nostrguard/proxy/internal/policy"
	"github.com/nostrguard/proxy/internal/refcache"
)

// State is one point in the Opening -> Ready -> Draining -> Closed
// lifecycle a session moves through exactly once, forward only.
type State int32

const (
	StateOpening State = iota
	StateReady
	StateDraining
	StateClosed
)

// ReqKindBlacklist reports whether a subscription filter's kind is
// forbidden from being requested through this proxy.
type ReqKindBlacklist interface {
	Match(kind int64) (entryID string, matched bool)
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Config bundles a session's process-wide collaborators. All fields are
// shared, read-mostly, and safe for concurrent use by many sessions.
type Config struct {
	Pipeline  *policy.Pipeline
	RefCache  *refcache.Cache
	Logs      *logsink.Sink
	ReqKinds  ReqKindBlacklist
	UpstreamURL string
}

// Session owns exactly one client connection and the one upstream
// connection it establishes on that client's behalf. All of its non-atomic
// state belongs exclusively to the goroutines this session starts; nothing
// here is touched by any other session.
type Session struct {
	cfg      Config
	client   *websocket.Conn
	upstream *websocket.Conn
	remoteIP string

	state atomic.Int32

	clientOut   chan []byte
	upstreamOut chan []byte

	eventCount    atomic.Int64
	rejectedCount atomic.Int64
	connectedAt   time.Time
}

// New wraps an already-accepted client connection. Call Run to establish
// the upstream leg and start forwarding.
func New(cfg Config, clientConn *websocket.Conn, remoteIP string) *Session {
	s := &Session{
		cfg:         cfg,
		client:      clientConn,
		remoteIP:    remoteIP,
		clientOut:   make(chan []byte, 64),
		upstreamOut: make(chan []byte, 64),
		connectedAt: time.Now(),
	}
	s.state.Store(int32(StateOpening))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

// Run dials the upstream relay and forwards frames both ways until either
// side disconnects; an upstream disconnect also closes the client
// connection. Once forwarding has started, Run returns after the session
// has reached Closed and its connection-log record has been enqueued. If
// the upstream dial fails, Run closes the client and returns in Closed
// without enqueueing a connection-log record.
func (s *Session) Run(ctx context.Context) {
	upstream, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.UpstreamURL, nil)
	if err != nil {
		slog.Warn("failed to establish upstream connection", "url", s.cfg.UpstreamURL, "error", err)
		s.client.Close()
		s.state.Store(int32(StateClosed))
		return
	}
	s.upstream = upstream
	s.state.Store(int32(StateReady))

	drain := make(chan struct{})
	var closeOnce int32
	closeDrain := func() {
		if atomic.CompareAndSwapInt32(&closeOnce, 0, 1) {
			close(drain)
		}
	}

	go s.writeLoop(s.client, s.clientOut, drain)
	go s.writeLoop(s.upstream, s.upstreamOut, drain)
	go func() {
		s.readFromUpstream(drain)
		closeDrain()
		// unblocks readFromClient so the session drains instead of
		// waiting for the client to disconnect on its own
		s.client.Close()
	}()

	s.readFromClient(drain)
	closeDrain()

	s.state.Store(int32(StateDraining))
	s.client.Close()
	s.upstream.Close()

	s.cfg.Logs.PushConnection(logsink.ConnectionRecord{
		IP:             s.remoteIP,
		ConnectedAt:    s.connectedAt,
		DisconnectedAt: time.Now(),
		EventCount:     s.eventCount.Load(),
		RejectedCount:  s.rejectedCount.Load(),
	})
	s.state.Store(int32(StateClosed))
}

func (s *Session) readFromClient(drain <-chan struct{}) {
	s.client.SetReadLimit(maxMessageSize)
	s.client.SetReadDeadline(time.Now().Add(pongWait))
	s.client.SetPongHandler(func(string) error {
		s.client.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.client.ReadMessage()
		if err != nil {
			return
		}

		frame, err := parseClientFrame(data)
		if err != nil {
			s.sendClient(drain, noticeFrame(err.Error()))
			continue
		}

		switch frame.label {
		case "EVENT":
			s.handlePublish(drain, frame.event, data)
		case "REQ":
			s.handleReq(drain, frame, data)
		default:
			// CLOSE and anything else pass through unmodified.
			s.sendUpstream(drain, data)
		}
	}
}

func (s *Session) handlePublish(drain <-chan struct{}, event *nostr.Event, raw []byte) {
	view := eventview.FromEvent(event)
	refID := view.FirstETag()

	verdict := s.cfg.Pipeline.Evaluate(context.Background(), view, s.remoteIP, refID)
	if !verdict.Accept {
		s.rejectedCount.Add(1)
		s.sendClient(drain, okFrame(view.ID, false, string(verdict.Reason)))
		s.cfg.Logs.PushRejection(logsink.RejectionRecord{
			EventID:   view.ID,
			PubKeyHex: view.PubKeyHex,
			Npub:      view.Npub,
			IP:        s.remoteIP,
			Kind:      view.Kind,
			Reason:    string(verdict.Reason),
			At:        time.Now(),
		})
		return
	}

	s.eventCount.Add(1)
	s.sendUpstream(drain, raw)
}

func (s *Session) handleReq(drain <-chan struct{}, frame clientFrame, raw []byte) {
	if s.cfg.ReqKinds != nil {
		for _, filter := range frame.filters {
			for _, kind := range filter.Kinds {
				if _, matched := s.cfg.ReqKinds.Match(int64(kind)); matched {
					s.sendClient(drain, closedFrame(frame.subID, "blocked: kind not permitted"))
					return
				}
			}
		}
	}
	s.sendUpstream(drain, raw)
}

func (s *Session) readFromUpstream(drain <-chan struct{}) {
	s.upstream.SetReadLimit(maxMessageSize)

	for {
		_, data, err := s.upstream.ReadMessage()
		if err != nil {
			return
		}

		if id, createdAt, ok := upstreamKind1(data); ok {
			s.cfg.RefCache.Insert(id, 1, createdAt)
		}

		s.sendClient(drain, data)
	}
}

func (s *Session) sendClient(drain <-chan struct{}, data []byte) {
	select {
	case s.clientOut <- data:
	case <-drain:
	}
}

func (s *Session) sendUpstream(drain <-chan struct{}, data []byte) {
	select {
	case s.upstreamOut <- data:
	case <-drain:
	}
}

// writeLoop is conn's sole writer: it serializes frame writes with
// periodic pings, exactly as a session's read goroutines expect to be able
// to enqueue and block without racing another writer on the same socket.
func (s *Session) writeLoop(conn *websocket.Conn, out <-chan []byte, drain <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-drain:
			return
		}
	}
}
