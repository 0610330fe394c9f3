// Package rtcpion adapts pion/webrtc peer connections and data channels to
// the pomelo transport interfaces.
package rtcpion

import (
	"github.com/pion/webrtc/v4"

	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/pomelo"
)

// Dialer implements pomelo.PeerDialer over pion.
type Dialer struct {
	// Config is passed to every new peer connection. Leave the zero value
	// for host-only candidates, or set ICE servers for NAT traversal.
	Config webrtc.Configuration
}

func (d *Dialer) NewPeerConn() (pomelo.PeerConn, error) {
	pc, err := webrtc.NewPeerConnection(d.Config)
	if err != nil {
		return nil, err
	}
	return &peerConn{pc: pc}, nil
}

type peerConn struct {
	pc *webrtc.PeerConnection
}

func (p *peerConn) CreateDataChannel(label string, mode pomelo.ChannelMode) (pomelo.DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, channelInit(mode))
	if err != nil {
		return nil, err
	}
	return &dataChannel{dc: dc}, nil
}

// channelInit maps a reliability mode onto SCTP channel options.
func channelInit(mode pomelo.ChannelMode) *webrtc.DataChannelInit {
	var (
		ordered   = true
		unordered = false
		zero      uint16
	)
	switch mode {
	case pomelo.ChannelUnreliable:
		return &webrtc.DataChannelInit{Ordered: &unordered, MaxRetransmits: &zero}
	case pomelo.ChannelSequenced:
		return &webrtc.DataChannelInit{Ordered: &ordered, MaxRetransmits: &zero}
	default:
		return &webrtc.DataChannelInit{Ordered: &ordered}
	}
}

func (p *peerConn) SetRemoteDescription(kind, sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(kind),
		SDP:  sdp,
	})
}

func (p *peerConn) CreateAnswer() (string, string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", "", err
	}
	return answer.Type.String(), answer.SDP, nil
}

func (p *peerConn) AddICECandidate(mid, candidate string) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate: candidate,
		SDPMid:    &mid,
	})
}

func (p *peerConn) OnICECandidate(fn func(mid, cand string)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End of gathering.
			return
		}
		j := c.ToJSON()
		mid := ""
		if j.SDPMid != nil {
			mid = *j.SDPMid
		}
		fn(mid, j.Candidate)
	})
}

func (p *peerConn) OnDataChannel(fn func(pomelo.DataChannel)) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&dataChannel{dc: dc})
	})
}

func (p *peerConn) OnFailure(fn func()) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			fn()
		}
	})
}

func (p *peerConn) Close() error {
	return p.pc.Close()
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) Send(b []byte) error { return d.dc.Send(b) }

func (d *dataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *dataChannel) OnMessage(fn func(b []byte)) {
	d.dc.OnMessage(func(m webrtc.DataChannelMessage) { fn(m.Data) })
}

func (d *dataChannel) OnClose(fn func()) { d.dc.OnClose(fn) }

func (d *dataChannel) Close() error { return d.dc.Close() }
