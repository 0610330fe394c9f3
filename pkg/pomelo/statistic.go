package pomelo

import "sync/atomic"

// Statistic accumulates traffic totals across every session of a socket.
// Channels borrow it for read-modify-write accounting on each send and
// receive.
type Statistic struct {
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
}

func (s *Statistic) BytesSent() uint64        { return s.bytesSent.Load() }
func (s *Statistic) BytesReceived() uint64    { return s.bytesReceived.Load() }
func (s *Statistic) MessagesSent() uint64     { return s.messagesSent.Load() }
func (s *Statistic) MessagesReceived() uint64 { return s.messagesReceived.Load() }

func (s *Statistic) addSent(n int) {
	s.bytesSent.Add(uint64(n))
	s.messagesSent.Add(1)
}

func (s *Statistic) addReceived(n int) {
	s.bytesReceived.Add(uint64(n))
	s.messagesReceived.Add(1)
}
