package pomelo

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/payload"
	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/signal"
	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/timesync"
	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/token"
)

// ConnectResult is the terminal outcome of one connect attempt.
type ConnectResult int

const (
	ConnectSuccess  ConnectResult = 0
	ConnectDenied   ConnectResult = -1
	ConnectTimedOut ConnectResult = -2
)

func (r ConnectResult) String() string {
	switch r {
	case ConnectSuccess:
		return "success"
	case ConnectDenied:
		return "denied"
	case ConnectTimedOut:
		return "timed_out"
	}
	return "unknown"
}

type sessionState int

const (
	stateInit sessionState = iota
	stateSignaling
	stateNegotiating
	stateReadyWait
	stateConnected
	stateClosed
)

const (
	pingInterval = 100 * time.Millisecond

	systemChannelLabel = "system"
	clientChannelLabel = "client-channel-"
	serverChannelLabel = "server-channel-"
)

// Session drives one connect attempt against one server endpoint: signaling
// handshake, peer-connection negotiation, channel readiness, the system ping
// loop, and teardown.
//
// All transport events are serialized through an internal mutex; user-visible
// signals are emitted after the lock is released, so callbacks may call back
// into the session.
type Session struct {
	socket *Socket
	log    zerolog.Logger
	tok    *token.ConnectToken
	addr   token.ServerAddress

	mu    sync.Mutex
	emitq []func()

	state               sessionState
	id                  uint64
	connected           bool
	allChannelsOpened   bool
	readySignalReceived bool
	sawConnected        bool
	resultEmitted       bool

	sig       SignalingConn
	peer      PeerConn
	channels  []*Channel
	system    DataChannel
	openCount int

	rtt   *timesync.RTTCalculator
	clock *timesync.Clock
	now   func() uint64

	connectTimer *time.Timer
	pingDone     chan struct{}
	sysBuf       *payload.Payload

	// OnConnectResult fires exactly once with the attempt's outcome.
	OnConnectResult signal.Signal[ConnectResult]

	// OnClosed fires exactly once when the session reaches its final state.
	OnClosed signal.Signal[*Session]
}

func newSession(sk *Socket, tok *token.ConnectToken, addr token.ServerAddress) *Session {
	rtt := timesync.NewRTTCalculator()
	s := &Session{
		socket: sk,
		log:    sk.log.With().Str("endpoint", addr.String()).Logger(),
		tok:    tok,
		addr:   addr,
		rtt:    rtt,
		clock:  timesync.NewClock(rtt, sk.now),
		now:    sk.now,
		sysBuf: payload.New(16),
	}
	return s
}

// run executes fn under the session lock, then flushes any queued signal
// emissions with the lock released.
func (s *Session) run(fn func()) {
	s.mu.Lock()
	fn()
	q := s.emitq
	s.emitq = nil
	s.mu.Unlock()
	for _, f := range q {
		f()
	}
}

// queue defers fn until the current run exits the lock.
func (s *Session) queue(fn func()) {
	s.emitq = append(s.emitq, fn)
}

// start arms the connect timer and begins the signaling handshake.
func (s *Session) start(ctx context.Context) {
	if t := s.tok.Timeout; t > 0 {
		s.connectTimer = time.AfterFunc(time.Duration(t)*time.Second, s.onConnectTimeout)
	} else {
		s.log.Warn().Int32("timeout", s.tok.Timeout).Msg("connect timeout disabled")
	}
	go s.dial(ctx)
}

func (s *Session) dial(ctx context.Context) {
	conn, err := s.socket.signals.DialSignaling(ctx, s.addr.String())
	if err != nil {
		s.log.Debug().Err(err).Msg("signaling dial failed")
		s.run(func() { s.closeLocked(ConnectDenied) })
		return
	}

	var dead bool
	s.run(func() {
		if s.state == stateClosed {
			conn.Close()
			dead = true
			return
		}
		s.sig = conn
		s.state = stateSignaling
		s.sendFrameLocked("AUTH|" + s.tok.EncodeBase64())
	})
	if dead {
		return
	}

	for {
		frame, err := conn.Recv()
		if err != nil {
			s.run(func() { s.closeLocked(ConnectDenied) })
			return
		}
		s.run(func() { s.handleFrameLocked(frame) })
	}
}

func (s *Session) sendFrameLocked(frame string) {
	if s.sig == nil {
		return
	}
	if err := s.sig.Send(frame); err != nil {
		s.log.Debug().Err(err).Msg("signaling send failed")
		s.closeLocked(ConnectDenied)
	}
}

// handleFrameLocked processes one signaling frame. Frames that do not parse
// are dropped to tolerate benign version skew.
func (s *Session) handleFrameLocked(frame string) {
	if s.state == stateClosed {
		return
	}
	cmd, rest, _ := strings.Cut(frame, "|")
	switch cmd {
	case "AUTH":
		s.handleAuthLocked(rest)
	case "DESC":
		kind, sdp, ok := strings.Cut(rest, "|")
		if !ok {
			s.log.Trace().Str("frame", frame).Msg("dropping malformed DESC")
			return
		}
		s.handleDescLocked(kind, sdp)
	case "CAND":
		mid, cand, ok := strings.Cut(rest, "|")
		if !ok {
			s.log.Trace().Str("frame", frame).Msg("dropping malformed CAND")
			return
		}
		if s.peer != nil {
			if err := s.peer.AddICECandidate(mid, cand); err != nil {
				s.log.Debug().Err(err).Msg("add ice candidate failed")
			}
		}
	case "READY":
		s.readySignalReceived = true
		s.checkReadyLocked()
	case "CONNECTED":
		s.handleConnectedLocked()
	default:
		s.log.Trace().Str("frame", frame).Msg("dropping unknown signaling frame")
	}
}

func (s *Session) handleAuthLocked(rest string) {
	if s.state != stateSignaling {
		return
	}
	deny := func(why string) {
		s.log.Debug().Str("why", why).Msg("authentication denied")
		s.closeLocked(ConnectDenied)
	}

	ok, rest, found := strings.Cut(rest, "|")
	if !found || ok != "OK" {
		deny("server refused token")
		return
	}
	idStr, timeStr, found := strings.Cut(rest, "|")
	if !found {
		deny("truncated AUTH OK")
		return
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		deny("malformed session id")
		return
	}
	peerTime, err := strconv.ParseUint(timeStr, 10, 64)
	if err != nil {
		deny("malformed peer time")
		return
	}

	s.id = id
	s.clock.Set(peerTime)
	s.log = s.log.With().Uint64("sid", id).Logger()

	if err := s.setupPeerLocked(); err != nil {
		s.log.Debug().Err(err).Msg("peer connection setup failed")
		s.closeLocked(ConnectDenied)
		return
	}
	s.state = stateNegotiating
	s.log.Debug().Msg("authenticated, negotiating peer connection")
}

func (s *Session) setupPeerLocked() error {
	peer, err := s.socket.peers.NewPeerConn()
	if err != nil {
		return err
	}
	s.peer = peer

	peer.OnICECandidate(func(mid, cand string) {
		s.run(func() {
			if s.state == stateClosed {
				return
			}
			s.sendFrameLocked("CAND|" + mid + "|" + cand)
		})
	})
	peer.OnDataChannel(func(dc DataChannel) {
		s.run(func() { s.adoptDataChannelLocked(dc) })
	})
	peer.OnFailure(func() {
		s.run(func() { s.closeLocked(ConnectDenied) })
	})

	s.channels = make([]*Channel, len(s.socket.modes))
	for i, mode := range s.socket.modes {
		dc, err := peer.CreateDataChannel(clientChannelLabel+strconv.Itoa(i), mode)
		if err != nil {
			return err
		}
		s.channels[i] = newChannel(s, i, mode, dc)
	}
	return nil
}

func (s *Session) handleDescLocked(kind, sdp string) {
	if s.peer == nil {
		return
	}
	if err := s.peer.SetRemoteDescription(kind, sdp); err != nil {
		s.log.Debug().Err(err).Msg("set remote description failed")
		s.closeLocked(ConnectDenied)
		return
	}
	localKind, localSDP, err := s.peer.CreateAnswer()
	if err != nil {
		s.log.Debug().Err(err).Msg("create answer failed")
		s.closeLocked(ConnectDenied)
		return
	}
	s.sendFrameLocked("DESC|" + localKind + "|" + localSDP)
}

// adoptDataChannelLocked binds a peer-created channel: the system channel by
// its reserved label, incoming halves by index, anything else is ignored.
func (s *Session) adoptDataChannelLocked(dc DataChannel) {
	if s.state == stateClosed {
		dc.Close()
		return
	}
	label := dc.Label()
	switch {
	case label == systemChannelLabel:
		s.system = dc
		dc.OnOpen(func() {
			s.run(func() { s.channelOpenedLocked() })
		})
		dc.OnMessage(func(b []byte) {
			s.run(func() { s.handleSystemMessageLocked(b) })
		})
		dc.OnClose(func() {
			s.run(func() { s.closeLocked(ConnectDenied) })
		})
	case strings.HasPrefix(label, serverChannelLabel):
		i, err := strconv.Atoi(label[len(serverChannelLabel):])
		if err != nil || i < 0 || i >= len(s.channels) {
			s.log.Debug().Str("label", label).Msg("ignoring out-of-range server channel")
			return
		}
		s.channels[i].attachIncoming(dc)
	default:
		s.log.Debug().Str("label", label).Msg("ignoring unexpected data channel")
	}
}

// channelOpenedLocked counts open halves; once the N client channels and the
// system channel are all open, the session announces readiness and starts
// pinging.
func (s *Session) channelOpenedLocked() {
	if s.state == stateClosed || s.allChannelsOpened {
		return
	}
	s.openCount++
	if s.openCount < len(s.channels)+1 {
		return
	}
	s.allChannelsOpened = true
	if s.state == stateNegotiating {
		s.state = stateReadyWait
	}
	s.sendFrameLocked("READY")
	s.startPingLocked()
	s.checkReadyLocked()
	s.log.Debug().Int("channels", len(s.channels)).Msg("all channels open")
}

// checkReadyLocked cancels the connect timer once both sides are ready.
func (s *Session) checkReadyLocked() {
	if s.allChannelsOpened && s.readySignalReceived && s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
}

func (s *Session) handleConnectedLocked() {
	if s.sawConnected || s.state == stateClosed {
		return
	}
	s.sawConnected = true
	s.connected = true
	s.state = stateConnected
	s.log.Info().Msg("connected")
	s.emitResultLocked(ConnectSuccess)
	s.queue(func() { s.socket.listenerFor().OnConnected(s) })
}

func (s *Session) emitResultLocked(r ConnectResult) {
	if s.resultEmitted {
		return
	}
	s.resultEmitted = true
	s.socket.metrics.connectResult(r)
	s.queue(func() { s.OnConnectResult.Emit(r) })
}

func (s *Session) onConnectTimeout() {
	s.run(func() {
		if s.state == stateClosed || s.connected {
			return
		}
		s.log.Debug().Msg("connect timed out")
		s.closeLocked(ConnectTimedOut)
	})
}

// closeLocked tears the session down. Idempotent; every trigger after the
// first is a no-op. The terminal result (if none was emitted yet) and the
// single OnClosed fire after the lock is released.
func (s *Session) closeLocked(r ConnectResult) {
	if s.state == stateClosed {
		return
	}
	wasConnected := s.connected
	s.state = stateClosed
	s.connected = false

	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	if s.pingDone != nil {
		close(s.pingDone)
		s.pingDone = nil
	}
	for _, c := range s.channels {
		c.closeLocked()
	}
	if s.system != nil {
		s.system.Close()
	}
	if s.peer != nil {
		s.peer.Close()
	}
	if s.sig != nil {
		s.sig.Close()
	}

	if !wasConnected {
		// An early close is a denial unless the trigger says otherwise.
		s.emitResultLocked(r)
	}
	s.socket.metrics.sessions_closed_total.Inc()
	s.queue(func() { s.OnClosed.Emit(s) })
	if wasConnected {
		s.queue(func() { s.socket.listenerFor().OnDisconnected(s) })
	}
	s.log.Debug().Msg("session closed")
}

// dataReceivedLocked hands a complete channel payload to the socket listener
// as a pooled message that is invalidated when the callback returns.
func (s *Session) dataReceivedLocked(c *Channel, b []byte) {
	m := s.socket.acquireIncoming()
	m.attach(b)
	s.queue(func() {
		s.socket.listenerFor().OnReceived(s, m)
		s.socket.releaseIncoming(m)
	})
}

// ID returns the session id assigned by the server on authentication.
func (s *Session) ID() uint64 { return s.id }

// Active reports whether the session has not yet closed.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != stateClosed
}

// Connected reports whether the session reached the connected state.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Channels returns the session's data channels, indexed by mode position.
func (s *Session) Channels() []*Channel { return s.channels }

// ChannelMode returns the mode of channel i.
func (s *Session) ChannelMode(i int) (ChannelMode, bool) {
	if i < 0 || i >= len(s.socket.modes) {
		return 0, false
	}
	return s.socket.modes[i], true
}

// RTT returns the current round-trip estimate and variance in nanoseconds.
func (s *Session) RTT() (mean, variance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtt.Mean, s.rtt.Variance
}

// ClockOffset returns the estimated peer-minus-local clock offset.
func (s *Session) ClockOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Offset()
}

// Send writes m on channel i. The message stays owned by the caller.
func (s *Session) Send(i int, m *Message) bool {
	if i < 0 || i >= len(s.channels) {
		return false
	}
	ok := false
	s.run(func() { ok = s.channels[i].sendLocked(m.Bytes()) })
	return ok
}

// Disconnect tears the session down. It returns true the first time and
// false on every later call.
func (s *Session) Disconnect() bool {
	first := false
	s.run(func() {
		if s.state != stateClosed {
			first = true
			s.closeLocked(ConnectDenied)
		}
	})
	return first
}
