package pomelo

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/payload"
	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/token"
)

// stubSignaling is an in-memory SignalingConn. Frames pushed with push are
// returned from Recv; frames the client sends appear on out.
type stubSignaling struct {
	in  chan string
	out chan string

	mu     sync.Mutex
	closed bool
}

func newStubSignaling() *stubSignaling {
	return &stubSignaling{
		in:  make(chan string, 64),
		out: make(chan string, 64),
	}
}

func (c *stubSignaling) Send(frame string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("signaling closed")
	}
	c.out <- frame
	return nil
}

func (c *stubSignaling) Recv() (string, error) {
	f, ok := <-c.in
	if !ok {
		return "", errors.New("signaling closed")
	}
	return f, nil
}

func (c *stubSignaling) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func (c *stubSignaling) push(frame string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.in <- frame
	}
}

// stubSignalingDialer routes each endpoint to a scripted connection.
type stubSignalingDialer struct {
	mu    sync.Mutex
	conns map[string]*stubSignaling // keyed by addr; nil value fails the dial
}

func (d *stubSignalingDialer) DialSignaling(ctx context.Context, addr string) (SignalingConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[addr]
	if !ok || c == nil {
		return nil, errors.New("no route to " + addr)
	}
	return c, nil
}

// stubDataChannel is an in-memory DataChannel half.
type stubDataChannel struct {
	label string

	mu      sync.Mutex
	onOpen  func()
	onMsg   func([]byte)
	onClose func()
	sent    [][]byte
	closed  bool
	sendErr error
}

func (d *stubDataChannel) Label() string { return d.label }

func (d *stubDataChannel) Send(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, append([]byte(nil), b...))
	return nil
}

func (d *stubDataChannel) OnOpen(fn func())          { d.mu.Lock(); d.onOpen = fn; d.mu.Unlock() }
func (d *stubDataChannel) OnMessage(fn func([]byte)) { d.mu.Lock(); d.onMsg = fn; d.mu.Unlock() }
func (d *stubDataChannel) OnClose(fn func())         { d.mu.Lock(); d.onClose = fn; d.mu.Unlock() }

func (d *stubDataChannel) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *stubDataChannel) open() {
	d.mu.Lock()
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *stubDataChannel) deliver(b []byte) {
	d.mu.Lock()
	fn := d.onMsg
	d.mu.Unlock()
	if fn != nil {
		fn(b)
	}
}

func (d *stubDataChannel) dropRemote() {
	d.mu.Lock()
	fn := d.onClose
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *stubDataChannel) frames() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sent...)
}

// stubPeer is an in-memory PeerConn.
type stubPeer struct {
	mu         sync.Mutex
	created    []*stubDataChannel
	announced  []*stubDataChannel
	system     *stubDataChannel
	onICE      func(mid, cand string)
	onDC       func(DataChannel)
	onFail     func()
	remoteKind string
	remoteSDP  string
	candidates []string
	closed     bool
}

func (p *stubPeer) CreateDataChannel(label string, mode ChannelMode) (DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dc := &stubDataChannel{label: label}
	p.created = append(p.created, dc)
	return dc, nil
}

func (p *stubPeer) SetRemoteDescription(kind, sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteKind, p.remoteSDP = kind, sdp
	return nil
}

func (p *stubPeer) CreateAnswer() (string, string, error) {
	return "answer", "v=0 stub-answer", nil
}

func (p *stubPeer) AddICECandidate(mid, candidate string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, mid+"/"+candidate)
	return nil
}

func (p *stubPeer) OnICECandidate(fn func(mid, cand string)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *stubPeer) OnDataChannel(fn func(DataChannel)) {
	p.mu.Lock()
	p.onDC = fn
	p.mu.Unlock()
}

func (p *stubPeer) OnFailure(fn func()) {
	p.mu.Lock()
	p.onFail = fn
	p.mu.Unlock()
}

func (p *stubPeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *stubPeer) clientChannels() []*stubDataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*stubDataChannel(nil), p.created...)
}

func (p *stubPeer) announce(dc *stubDataChannel) {
	p.mu.Lock()
	p.announced = append(p.announced, dc)
	if dc.label == systemChannelLabel {
		p.system = dc
	}
	fn := p.onDC
	p.mu.Unlock()
	if fn != nil {
		fn(dc)
	}
}

// stubPeerDialer hands out stub peers and remembers them in order.
type stubPeerDialer struct {
	mu    sync.Mutex
	peers []*stubPeer
}

func (d *stubPeerDialer) NewPeerConn() (PeerConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &stubPeer{}
	d.peers = append(d.peers, p)
	return p, nil
}

func (d *stubPeerDialer) last() *stubPeer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.peers) == 0 {
		return nil
	}
	return d.peers[len(d.peers)-1]
}

// recordListener counts socket events.
type recordListener struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	received     [][]byte
}

func (l *recordListener) OnConnected(*Session)    { l.mu.Lock(); l.connected++; l.mu.Unlock() }
func (l *recordListener) OnDisconnected(*Session) { l.mu.Lock(); l.disconnected++; l.mu.Unlock() }

func (l *recordListener) OnReceived(_ *Session, m *Message) {
	l.mu.Lock()
	l.received = append(l.received, append([]byte(nil), m.Bytes()...))
	l.mu.Unlock()
}

func (l *recordListener) counts() (int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected, l.disconnected, len(l.received)
}

// buildTestToken assembles a 2048-byte token whose address list holds one
// IPv4 loopback entry per port.
func buildTestToken(t *testing.T, timeout int32, ports ...uint16) []byte {
	t.Helper()
	p := payload.New(token.Size)
	if err := p.WriteString("netcode 1.02"); err != nil {
		t.Fatal(err)
	}
	p.WriteUint64(1)
	p.WriteUint64(0)
	p.WriteUint64(0)
	p.Write(make([]byte, token.NonceSize))
	p.Write(make([]byte, token.PrivateDataSize))
	p.WriteInt32(timeout)
	p.WriteUint32(uint32(len(ports)))
	for _, port := range ports {
		p.WriteUint8(1)
		p.Write([]byte{127, 0, 0, 1})
		p.WriteUint16(port)
	}
	p.Write(make([]byte, token.KeySize))
	p.Write(make([]byte, token.KeySize))
	buf := make([]byte, token.Size)
	copy(buf, p.Pack())
	return buf
}

// eventually polls cond for up to the deadline.
func eventually(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	end := time.Now().Add(d)
	for time.Now().Before(end) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", msg)
}

// serve runs the scripted server side of a happy-path handshake on sig: it
// accepts any AUTH, sends an offer, announces the system and server channels,
// opens everything, and confirms READY with CONNECTED.
func serve(t *testing.T, sig *stubSignaling, peers *stubPeerDialer, id string, n int) {
	t.Helper()
	go func() {
		for f := range sig.out {
			switch {
			case len(f) > 5 && f[:5] == "AUTH|":
				sig.push("AUTH|OK|" + id + "|1000000000")
				go func() {
					eventually(t, time.Second, func() bool {
						p := peers.last()
						return p != nil && len(p.clientChannels()) == n
					}, "client channels created")
					p := peers.last()
					sig.push("DESC|offer|v=0 stub-offer")
					sig.push("CAND|0|candidate:stub")
					system := &stubDataChannel{label: systemChannelLabel}
					p.announce(system)
					for i := 0; i < n; i++ {
						p.announce(&stubDataChannel{label: serverChannelLabel + strconv.Itoa(i)})
					}
					for _, dc := range p.clientChannels() {
						dc.open()
					}
					system.open()
				}()
			case f == "READY":
				sig.push("READY")
				sig.push("CONNECTED")
			}
		}
	}()
}

