// Package token decodes the public portion of a connect token, the bearer
// credential carrying the ranked server endpoint list and channel keys.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/payload"
)

// Size is the exact length of a connect token. Any other input length is
// rejected before decoding.
const Size = 2048

const (
	NonceSize       = 24
	PrivateDataSize = 1024
	KeySize         = 32

	// MaxServerAddresses bounds the endpoint list.
	MaxServerAddresses = 32

	addressTypeIPv4 = 1
	addressTypeIPv6 = 2
)

var ErrInvalidToken = errors.New("invalid connect token")

// ServerAddress is one decoded endpoint from the token's ranked list.
type ServerAddress struct {
	Host string
	Port uint16
}

func (a ServerAddress) String() string {
	if strings.Contains(a.Host, ":") {
		return "[" + a.Host + "]:" + strconv.Itoa(int(a.Port))
	}
	return a.Host + ":" + strconv.Itoa(int(a.Port))
}

// ConnectToken is the public portion of a connect token. The private blob
// stays opaque; only the server can decrypt it.
type ConnectToken struct {
	Version           string
	ProtocolID        uint64
	CreateTimestamp   uint64
	ExpireTimestamp   uint64
	Nonce             []byte
	PrivateData       []byte
	Timeout           int32 // seconds; non-positive disables the connect timer
	ServerAddresses   []ServerAddress
	ClientToServerKey []byte
	ServerToClientKey []byte

	// Raw is the 2048-byte binary token (decoded first if it arrived as
	// base64), re-encoded for the AUTH frame.
	Raw []byte
}

// Parse accepts a token as raw bytes or as its URL-safe base64 transport form
// and decodes the public portion.
func Parse(data []byte) (*ConnectToken, error) {
	raw := data
	if len(raw) != Size {
		dec, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(string(data), "="))
		if err != nil || len(dec) != Size {
			return nil, fmt.Errorf("%w: length %d", ErrInvalidToken, len(data))
		}
		raw = dec
	}
	return Decode(raw)
}

// Decode parses the fixed 2048-byte public layout.
func Decode(raw []byte) (*ConnectToken, error) {
	if len(raw) != Size {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidToken, len(raw))
	}

	p := payload.Wrap(raw)
	t := &ConnectToken{Raw: raw}

	t.Version = p.ReadString()
	if t.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrInvalidToken)
	}

	var err error
	read := func(f func() (uint64, error)) uint64 {
		v, e := f()
		if e != nil && err == nil {
			err = e
		}
		return v
	}

	t.ProtocolID = read(p.ReadUint64)
	t.CreateTimestamp = read(p.ReadUint64)
	t.ExpireTimestamp = read(p.ReadUint64)

	if b, e := p.Read(NonceSize); e == nil {
		t.Nonce = b
	} else if err == nil {
		err = e
	}
	if b, e := p.Read(PrivateDataSize); e == nil {
		t.PrivateData = b
	} else if err == nil {
		err = e
	}

	if v, e := p.ReadInt32(); e == nil {
		t.Timeout = v
	} else if err == nil {
		err = e
	}

	count, e := p.ReadUint32()
	if e != nil && err == nil {
		err = e
	}
	if err != nil {
		return nil, fmt.Errorf("%w: truncated layout: %v", ErrInvalidToken, err)
	}
	if count < 1 || count > MaxServerAddresses {
		return nil, fmt.Errorf("%w: %d server addresses", ErrInvalidToken, count)
	}

	t.ServerAddresses = make([]ServerAddress, 0, count)
	for i := uint32(0); i < count; i++ {
		addr, e := decodeAddress(p)
		if e != nil {
			return nil, e
		}
		t.ServerAddresses = append(t.ServerAddresses, addr)
	}

	if t.ClientToServerKey, err = p.Read(KeySize); err != nil {
		return nil, fmt.Errorf("%w: truncated keys: %v", ErrInvalidToken, err)
	}
	if t.ServerToClientKey, err = p.Read(KeySize); err != nil {
		return nil, fmt.Errorf("%w: truncated keys: %v", ErrInvalidToken, err)
	}
	return t, nil
}

func decodeAddress(p *payload.Payload) (ServerAddress, error) {
	typ, err := p.ReadUint8()
	if err != nil {
		return ServerAddress{}, fmt.Errorf("%w: truncated address: %v", ErrInvalidToken, err)
	}
	switch typ {
	case addressTypeIPv4:
		b, err := p.Read(4)
		if err != nil {
			return ServerAddress{}, fmt.Errorf("%w: truncated address: %v", ErrInvalidToken, err)
		}
		host := fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
		port, err := p.ReadUint16()
		if err != nil {
			return ServerAddress{}, fmt.Errorf("%w: truncated address: %v", ErrInvalidToken, err)
		}
		return ServerAddress{Host: host, Port: port}, nil
	case addressTypeIPv6:
		var sb strings.Builder
		for i := 0; i < 8; i++ {
			g, err := p.ReadUint16()
			if err != nil {
				return ServerAddress{}, fmt.Errorf("%w: truncated address: %v", ErrInvalidToken, err)
			}
			if i > 0 {
				sb.WriteByte(':')
			}
			sb.WriteString(strconv.FormatUint(uint64(g), 16))
		}
		port, err := p.ReadUint16()
		if err != nil {
			return ServerAddress{}, fmt.Errorf("%w: truncated address: %v", ErrInvalidToken, err)
		}
		return ServerAddress{Host: sb.String(), Port: port}, nil
	}
	// An unknown tag desynchronizes every following field, so fail fast
	// instead of skipping.
	return ServerAddress{}, fmt.Errorf("%w: unknown address type %d", ErrInvalidToken, typ)
}

// EncodeBase64 returns the URL-safe base64 transport form of the token.
func (t *ConnectToken) EncodeBase64() string {
	return base64.RawURLEncoding.EncodeToString(t.Raw)
}
