// Package sigws carries the signaling channel over a WebSocket: one text
// frame per signaling message.
package sigws

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/pomelo"
)

// Dialer implements pomelo.SignalingDialer. The endpoint host and port from
// the connect token are combined with the configured scheme and path.
type Dialer struct {
	// Scheme is ws or wss. Empty means ws.
	Scheme string

	// Path is the request path on the signaling server. Empty means /.
	Path string

	// Dialer overrides the underlying WebSocket dialer.
	Dialer *websocket.Dialer
}

func (d *Dialer) DialSignaling(ctx context.Context, addr string) (pomelo.SignalingConn, error) {
	scheme := d.Scheme
	if scheme == "" {
		scheme = "ws"
	}
	path := d.Path
	if path == "" {
		path = "/"
	}
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}

	u := url.URL{Scheme: scheme, Host: addr, Path: path}
	ws, _, err := wd.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling %s: %w", u.String(), err)
	}
	return &conn{ws: ws}, nil
}

type conn struct {
	wmu sync.Mutex // gorilla allows one concurrent writer
	ws  *websocket.Conn
}

func (c *conn) Send(frame string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *conn) Recv() (string, error) {
	_, b, err := c.ws.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *conn) Close() error {
	return c.ws.Close()
}
