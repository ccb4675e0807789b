// Package session serves control loops to vehicles over websocket connections. Each connection
// gets its own Session and control loop; sessions share nothing mutable.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/mpc/control"
	"go.viam.com/mpc/telemetry"
)

// Stats counts what a session has handled.
type Stats struct {
	Frames   int
	Commands int
	Manual   int
	Skipped  int
}

// A Session holds one vehicle connection's control loop and expresses whether the vehicle is
// still actively sending frames.
type Session struct {
	mu              sync.Mutex
	id              uuid.UUID
	remoteAddr      string
	deadline        time.Time
	heartbeatWindow time.Duration
	stats           Stats

	loop *control.Loop
}

// New makes a new session.
func New(remoteAddr string, heartbeatWindow time.Duration, loop *control.Loop) *Session {
	return NewWithID(uuid.New(), remoteAddr, heartbeatWindow, loop)
}

// NewWithID makes a new session with an ID.
func NewWithID(id uuid.UUID, remoteAddr string, heartbeatWindow time.Duration, loop *control.Loop) *Session {
	sess := &Session{
		id:              id,
		remoteAddr:      remoteAddr,
		heartbeatWindow: heartbeatWindow,
		loop:            loop,
	}
	sess.Heartbeat()
	return sess
}

// ID returns the id of this session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// RemoteAddr returns the address of the vehicle.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// Heartbeat signals a single heartbeat to the session.
func (s *Session) Heartbeat() {
	s.mu.Lock()
	s.deadline = time.Now().Add(s.heartbeatWindow)
	s.mu.Unlock()
}

// Active checks if this session is still active.
func (s *Session) Active(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline.After(at)
}

// HeartbeatWindow returns the time window that a single heartbeat must sent within.
func (s *Session) HeartbeatWindow() time.Duration {
	return s.heartbeatWindow
}

// Deadline returns when this session is set to expire.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Loop returns the session's control loop.
func (s *Session) Loop() *control.Loop {
	return s.loop
}

// Handle processes one incoming frame and returns the reply to send, or nil when there is none.
// A returned error means the frame was dropped; the session remains usable.
func (s *Session) Handle(ctx context.Context, frame []byte) ([]byte, error) {
	s.Heartbeat()
	s.count(func(st *Stats) { st.Frames++ })

	msg, err := telemetry.ParseMessage(frame)
	if err != nil {
		s.count(func(st *Stats) { st.Skipped++ })
		return nil, err
	}
	switch msg.Kind {
	case telemetry.MessageManual:
		s.count(func(st *Stats) { st.Manual++ })
		return telemetry.ManualMessage, nil
	case telemetry.MessageEvent:
		if msg.Event != telemetry.EventTelemetry {
			return nil, nil
		}
	case telemetry.MessageIgnored:
		return nil, nil
	default:
		return nil, errors.Errorf("unknown message kind %d", msg.Kind)
	}

	tel, err := telemetry.Decode(msg.Data)
	if err != nil {
		s.count(func(st *Stats) { st.Skipped++ })
		return nil, fmt.Errorf("%w: %w", control.ErrInput, err)
	}
	cmd, err := s.loop.Step(ctx, tel)
	if err != nil {
		s.count(func(st *Stats) { st.Skipped++ })
		return nil, err
	}
	reply, err := telemetry.EncodeSteer(cmd)
	if err != nil {
		s.count(func(st *Stats) { st.Skipped++ })
		return nil, err
	}
	s.count(func(st *Stats) { st.Commands++ })
	return reply, nil
}

func (s *Session) count(update func(*Stats)) {
	s.mu.Lock()
	update(&s.stats)
	s.mu.Unlock()
}
