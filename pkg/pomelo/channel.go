package pomelo

import (
	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/signal"
)

// Channel pairs the outgoing half of a data channel with its server-created
// incoming half. The incoming half is attached once the peer announces it.
// Transport callbacks are serialized through the owning session; the public
// signals fire outside the session lock so subscribers may call back in.
type Channel struct {
	session *Session
	index   int
	mode    ChannelMode
	out     DataChannel
	in      DataChannel
	stats   *Statistic

	opened bool
	closed bool

	OnOpened signal.Signal[*Channel]
	OnData   signal.Signal[[]byte]
	OnClosed signal.Signal[*Channel]
}

func newChannel(s *Session, index int, mode ChannelMode, out DataChannel) *Channel {
	c := &Channel{
		session: s,
		index:   index,
		mode:    mode,
		out:     out,
		stats:   s.socket.Statistic(),
	}
	out.OnOpen(func() {
		s.run(func() {
			if c.closed || c.opened {
				return
			}
			c.opened = true
			s.queue(func() { c.OnOpened.Emit(c) })
			s.channelOpenedLocked()
		})
	})
	out.OnClose(func() {
		s.run(func() { c.closeLocked() })
	})
	return c
}

// attachIncoming binds the peer-created half delivering data for this
// channel.
func (c *Channel) attachIncoming(in DataChannel) {
	c.in = in
	in.OnMessage(func(b []byte) {
		c.session.run(func() {
			if c.closed {
				return
			}
			c.stats.addReceived(len(b))
			c.session.queue(func() { c.OnData.Emit(b) })
			c.session.dataReceivedLocked(c, b)
		})
	})
	in.OnClose(func() {
		c.session.run(func() { c.closeLocked() })
	})
}

// Index returns the channel's position in the socket's mode list.
func (c *Channel) Index() int { return c.index }

// Mode returns the reliability mode fixed at creation.
func (c *Channel) Mode() ChannelMode { return c.mode }

// SetMode keeps the historical API shape, but the mode cannot change after
// creation; the call reports success without any effect.
func (c *Channel) SetMode(ChannelMode) bool { return true }

// Opened reports whether the outgoing half has reached the open state.
func (c *Channel) Opened() bool { return c.opened }

// Send enqueues b on the outgoing half and accounts the bytes. Returns false
// once the channel is closed or if the transport rejects the send.
func (c *Channel) Send(b []byte) bool {
	ok := false
	c.session.run(func() { ok = c.sendLocked(b) })
	return ok
}

func (c *Channel) sendLocked(b []byte) bool {
	if c.closed || !c.opened {
		return false
	}
	if err := c.out.Send(b); err != nil {
		return false
	}
	c.stats.addSent(len(b))
	return true
}

// closeLocked closes both halves, emits OnClosed exactly once, and tears the
// session down (a dead channel is fatal to its session).
func (c *Channel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.out.Close()
	if c.in != nil {
		c.in.Close()
	}
	c.session.queue(func() { c.OnClosed.Emit(c) })
	c.session.closeLocked(ConnectDenied)
}
