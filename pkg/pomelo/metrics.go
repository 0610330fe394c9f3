package pomelo

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

type socketMetrics struct {
	set           *metrics.Set
	connect_total struct {
		success   *metrics.Counter
		denied    *metrics.Counter
		timed_out *metrics.Counter
	}
	sessions_closed_total *metrics.Counter
	ping_tx_total         *metrics.Counter
	ping_rx_total         *metrics.Counter
	pong_rx_total         *metrics.Counter
	pong_dropped_total    *metrics.Counter
	clock_adopted_total   *metrics.Counter
	rtt_seconds           *metrics.Histogram
}

func newSocketMetrics() *socketMetrics {
	m := &socketMetrics{set: metrics.NewSet()}
	m.connect_total.success = m.set.NewCounter(`pomelo_connect_total{result="success"}`)
	m.connect_total.denied = m.set.NewCounter(`pomelo_connect_total{result="denied"}`)
	m.connect_total.timed_out = m.set.NewCounter(`pomelo_connect_total{result="timed_out"}`)
	m.sessions_closed_total = m.set.NewCounter(`pomelo_sessions_closed_total`)
	m.ping_tx_total = m.set.NewCounter(`pomelo_ping_tx_total`)
	m.ping_rx_total = m.set.NewCounter(`pomelo_ping_rx_total`)
	m.pong_rx_total = m.set.NewCounter(`pomelo_pong_rx_total`)
	m.pong_dropped_total = m.set.NewCounter(`pomelo_pong_dropped_total`)
	m.clock_adopted_total = m.set.NewCounter(`pomelo_clock_adopted_total`)
	m.rtt_seconds = m.set.NewHistogram(`pomelo_rtt_seconds`)
	return m
}

func (m *socketMetrics) connectResult(r ConnectResult) {
	switch r {
	case ConnectSuccess:
		m.connect_total.success.Inc()
	case ConnectDenied:
		m.connect_total.denied.Inc()
	case ConnectTimedOut:
		m.connect_total.timed_out.Inc()
	}
}

// WritePrometheus writes the socket's metrics in Prometheus text format,
// including the traffic totals from the statistic record.
func (s *Socket) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
	fmt.Fprintln(w, `pomelo_tx_bytes`, s.stats.BytesSent())
	fmt.Fprintln(w, `pomelo_rx_bytes`, s.stats.BytesReceived())
	fmt.Fprintln(w, `pomelo_tx_messages`, s.stats.MessagesSent())
	fmt.Fprintln(w, `pomelo_rx_messages`, s.stats.MessagesReceived())
}
