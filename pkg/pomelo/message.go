package pomelo

import (
	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/payload"
	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/pool"
)

// Message is a pooled payload buffer. Outgoing messages are written through
// the payload cursor and sent with Socket.Send, which releases them; incoming
// messages alias the received frame and are invalidated once the receive
// callback returns.
type Message struct {
	payload *payload.Payload
	frame   []byte // non-nil for the incoming variant
}

func newMessage() *Message {
	return &Message{payload: payload.New(0)}
}

// Payload exposes the cursor for reading or writing the message body.
func (m *Message) Payload() *payload.Payload { return m.payload }

// Reset prepares the message for writing up to capacity bytes.
func (m *Message) Reset(capacity int) {
	m.frame = nil
	m.payload.PrepareSize(capacity)
}

// attach aliases the message to a received frame without copying.
func (m *Message) attach(frame []byte) {
	m.frame = frame
	m.payload.Prepare(frame)
}

// Bytes returns the wire form: the received frame for incoming messages, the
// written prefix for outgoing ones.
func (m *Message) Bytes() []byte {
	if m.frame != nil {
		return m.frame
	}
	return m.payload.Pack()
}

// pools holds the per-socket free-lists. They are owned by the socket and
// every access is guarded by the socket mutex.
type pools struct {
	message  *pool.Pool[*Message]
	incoming *pool.Pool[*Message]
	pingPong *pool.Pool[*pingPong]
}

func newPools() *pools {
	return &pools{
		message:  pool.New(0, newMessage, nil),
		incoming: pool.New(0, newMessage, nil),
		pingPong: pool.New(0, func() *pingPong { return new(pingPong) }, nil),
	}
}
