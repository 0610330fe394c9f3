package pomelo

import "time"

// startPingLocked launches the 100ms system ping loop. Idempotent.
func (s *Session) startPingLocked() {
	if s.pingDone != nil {
		return
	}
	done := make(chan struct{})
	s.pingDone = done
	go s.pingLoop(done)
}

func (s *Session) pingLoop(done chan struct{}) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			s.run(func() { s.sendPingLocked() })
		}
	}
}

// sendPingLocked allocates an RTT slot and sends a PING with the minimal
// packed sequence width.
func (s *Session) sendPingLocked() {
	if s.state == stateClosed || s.system == nil {
		return
	}
	e := s.rtt.Next(s.now())

	pp := s.socket.acquirePingPong()
	defer s.socket.releasePingPong(pp)
	pp.reset()
	pp.sequence = e.Sequence

	s.sysBuf.PrepareSize(16)
	if err := pp.encode(s.sysBuf); err != nil {
		s.log.Debug().Err(err).Msg("encode ping failed")
		return
	}
	if err := s.system.Send(s.sysBuf.Pack()); err != nil {
		s.log.Debug().Err(err).Msg("send ping failed")
		return
	}
	s.socket.metrics.ping_tx_total.Inc()
}

// handleSystemMessageLocked processes one system-channel frame: answer pings
// with a sequence-only pong; fold pongs into the RTT and clock estimators.
func (s *Session) handleSystemMessageLocked(b []byte) {
	if s.state == stateClosed {
		return
	}

	pp := s.socket.acquirePingPong()
	defer s.socket.releasePingPong(pp)
	if err := pp.decode(b); err != nil {
		s.log.Trace().Err(err).Msg("dropping malformed system frame")
		return
	}

	if !pp.pong {
		s.socket.metrics.ping_rx_total.Inc()
		out := s.socket.acquirePingPong()
		defer s.socket.releasePingPong(out)
		out.reset()
		out.pong = true
		out.sequence = pp.sequence
		s.sysBuf.PrepareSize(16)
		if err := out.encode(s.sysBuf); err == nil {
			s.system.Send(s.sysBuf.Pack())
		}
		return
	}

	recv := s.now()
	e := s.rtt.Entry(pp.sequence)
	if e == nil {
		s.socket.metrics.pong_dropped_total.Inc()
		return
	}
	sent := e.Time
	s.rtt.Submit(e, recv, 0)
	s.socket.metrics.pong_rx_total.Inc()
	s.socket.metrics.rtt_seconds.Update(float64(s.rtt.Mean) / 1e9)

	if pp.hasTime {
		// The pong carries the peer's receive/transmit instant; both middle
		// timestamps collapse to it.
		if s.clock.Sync(sent, pp.time, pp.time, recv) {
			s.socket.metrics.clock_adopted_total.Inc()
		}
	}
}
