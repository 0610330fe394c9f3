// Package pomelo implements the client side of a multi-channel real-time
// peer transport: connect-token bootstrap over a signaling channel, data
// channels with configurable reliability, and continuous RTT and clock
// synchronization over a dedicated system channel.
package pomelo

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/timesync"
	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/token"
)

var errNoTransport = errors.New("socket requires a signaling dialer and a peer dialer")

// Listener receives socket-level events. All callbacks run outside the
// session lock; the message passed to OnReceived is invalidated once the
// callback returns.
type Listener interface {
	OnConnected(s *Session)
	OnDisconnected(s *Session)
	OnReceived(s *Session, m *Message)
}

// NopListener is a Listener that ignores everything.
type NopListener struct{}

func (NopListener) OnConnected(*Session)          {}
func (NopListener) OnDisconnected(*Session)       {}
func (NopListener) OnReceived(*Session, *Message) {}

// Options configures a Socket beyond its channel modes.
type Options struct {
	// Logger for socket and session events. The zero value disables logging.
	Logger zerolog.Logger

	// Signaling opens the bootstrap channel to each endpoint.
	Signaling SignalingDialer

	// Peers creates the negotiated peer connections.
	Peers PeerDialer

	// Now overrides the time source, in nanoseconds. Nil means wall time.
	Now func() uint64
}

// Socket holds a configured sequence of channel modes and drives one session
// at a time through the endpoint list of a connect token.
type Socket struct {
	modes   []ChannelMode
	log     zerolog.Logger
	signals SignalingDialer
	peers   PeerDialer
	now     func() uint64
	metrics *socketMetrics
	stats   Statistic

	mu       sync.Mutex
	listener Listener
	session  *Session
	pools    *pools
}

// NewSocket creates a socket with one data channel per mode.
func NewSocket(modes []ChannelMode, opts Options) (*Socket, error) {
	if opts.Signaling == nil || opts.Peers == nil {
		return nil, errNoTransport
	}
	now := opts.Now
	if now == nil {
		now = timesync.Now
	}
	return &Socket{
		modes:    append([]ChannelMode(nil), modes...),
		log:      opts.Logger,
		signals:  opts.Signaling,
		peers:    opts.Peers,
		now:      now,
		metrics:  newSocketMetrics(),
		listener: NopListener{},
		pools:    newPools(),
	}, nil
}

// SetListener installs the event listener. A nil listener restores the no-op
// default.
func (s *Socket) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *Socket) listenerFor() Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

// Connect decodes the token and tries its endpoints in declared order,
// returning on the first success. Otherwise the last non-success result is
// returned once the list is exhausted.
func (s *Socket) Connect(ctx context.Context, tokenData []byte) (ConnectResult, error) {
	tok, err := token.Parse(tokenData)
	if err != nil {
		return ConnectDenied, err
	}

	result := ConnectDenied
	for _, addr := range tok.ServerAddresses {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		s.log.Debug().Stringer("endpoint", addr).Msg("trying endpoint")

		sess := newSession(s, tok, addr)
		done := sess.OnConnectResult.OnceChan()

		s.mu.Lock()
		s.session = sess
		s.mu.Unlock()

		sess.start(ctx)
		select {
		case result = <-done:
		case <-ctx.Done():
			sess.Disconnect()
			return result, ctx.Err()
		}

		if result == ConnectSuccess {
			return result, nil
		}
		sess.Disconnect()
		s.mu.Lock()
		s.session = nil
		s.mu.Unlock()
	}
	return result, nil
}

// Stop disconnects the current session, if any.
func (s *Socket) Stop() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()
	if sess != nil {
		sess.Disconnect()
	}
}

// Session returns the current session, or nil.
func (s *Socket) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// NewMessage acquires a pooled message prepared for writing capacity bytes.
func (s *Socket) NewMessage(capacity int) *Message {
	s.mu.Lock()
	m := s.pools.message.Acquire()
	s.mu.Unlock()
	m.Reset(capacity)
	return m
}

// Send attempts m on channel i of every recipient and returns the number of
// successful sends. The message is released back to its pool exactly once,
// whether or not any send succeeds.
func (s *Socket) Send(i int, m *Message, recipients ...*Session) int {
	n := 0
	for _, r := range recipients {
		if r == nil {
			continue
		}
		if r.Send(i, m) {
			n++
		}
	}
	s.mu.Lock()
	s.pools.message.Release(m)
	s.mu.Unlock()
	return n
}

// Statistic returns the socket's traffic totals.
func (s *Socket) Statistic() *Statistic { return &s.stats }

// ChannelModes returns the configured mode sequence.
func (s *Socket) ChannelModes() []ChannelMode {
	return append([]ChannelMode(nil), s.modes...)
}

// Time returns the peer-aligned time in nanoseconds: local time plus the
// current session's clock offset, or plain local time with no session.
func (s *Socket) Time() uint64 {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return s.now()
	}
	return uint64(int64(s.now()) + sess.ClockOffset())
}

func (s *Socket) acquireIncoming() *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pools.incoming.Acquire()
}

func (s *Socket) releaseIncoming(m *Message) {
	m.attach(nil)
	s.mu.Lock()
	s.pools.incoming.Release(m)
	s.mu.Unlock()
}

func (s *Socket) acquirePingPong() *pingPong {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pools.pingPong.Acquire()
}

func (s *Socket) releasePingPong(pp *pingPong) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools.pingPong.Release(pp)
}
