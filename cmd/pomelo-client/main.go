// Command pomelo-client connects to a server with a connect token and logs
// session lifecycle, received messages, and the round-trip estimate.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/pomelo"
	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/rtcpion"
	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/sigws"
	"github.com/pomelo-net/pomelo-udp-webrtc/pkg/token"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [flags] [config.env]\n", os.Args[0])
	fmt.Fprint(w, "\nConnects with the token from POMELO_TOKEN or POMELO_TOKEN_FILE and stays\nconnected until interrupted. With a config.env argument, that file replaces\nthe process environment as the config source.\n\nflags:\n")
	fmt.Fprint(w, pflag.CommandLine.FlagUsages())
}

func main() {
	pflag.Parse()
	if opt.Help {
		usage(os.Stdout)
		return
	}
	if pflag.NArg() > 1 {
		usage(os.Stderr)
		os.Exit(2)
	}

	environ := os.Environ()
	if pflag.NArg() == 1 {
		var err error
		if environ, err = loadEnvFile(pflag.Arg(0)); err != nil {
			fmt.Fprintln(os.Stderr, "pomelo-client:", err)
			os.Exit(1)
		}
	}

	var c Config
	if err := c.UnmarshalEnv(environ, false); err != nil {
		fmt.Fprintln(os.Stderr, "pomelo-client: config:", err)
		os.Exit(1)
	}

	log := configureLogging(&c)

	tokenData, err := readToken(&c)
	if err != nil {
		log.Fatal().Err(err).Msg("read connect token")
	}
	modes, err := parseModes(c.Channels)
	if err != nil {
		log.Fatal().Err(err).Msg("parse channel modes")
	}

	var ice []webrtc.ICEServer
	if len(c.ICEServers) != 0 {
		ice = append(ice, webrtc.ICEServer{URLs: c.ICEServers})
	}

	sock, err := pomelo.NewSocket(modes, pomelo.Options{
		Logger:    log,
		Signaling: &sigws.Dialer{Scheme: c.SignalingScheme, Path: c.SignalingPath},
		Peers:     &rtcpion.Dialer{Config: webrtc.Configuration{ICEServers: ice}},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("create socket")
	}
	sock.SetListener(&eventLogger{log: log})

	if c.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
				sock.WritePrometheus(w)
			})
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := sock.Connect(ctx, tokenData)
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	if res != pomelo.ConnectSuccess {
		log.Fatal().Stringer("result", res).Msg("connect refused")
	}

	t := time.NewTicker(c.RTTLogInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			sock.Stop()
			return
		case <-t.C:
			sess := sock.Session()
			if sess == nil || !sess.Active() {
				log.Info().Msg("session gone, exiting")
				sock.Stop()
				return
			}
			mean, variance := sess.RTT()
			log.Info().
				Dur("rtt", time.Duration(mean)).
				Int64("rtt_var_ns2", variance).
				Uint64("time", sock.Time()).
				Msg("session stats")
		}
	}
}

// eventLogger logs socket events.
type eventLogger struct {
	log zerolog.Logger
}

func (l *eventLogger) OnConnected(s *pomelo.Session) {
	l.log.Info().Uint64("sid", s.ID()).Msg("connected")
}

func (l *eventLogger) OnDisconnected(s *pomelo.Session) {
	l.log.Info().Uint64("sid", s.ID()).Msg("disconnected")
}

func (l *eventLogger) OnReceived(s *pomelo.Session, m *pomelo.Message) {
	l.log.Debug().Uint64("sid", s.ID()).Int("bytes", len(m.Bytes())).Msg("received")
}

func configureLogging(c *Config) zerolog.Logger {
	var out zerolog.LevelWriter
	if c.LogPretty {
		out = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		out = zerolog.MultiLevelWriter(os.Stdout)
	}
	return zerolog.New(out).Level(c.LogLevel).With().Timestamp().Logger()
}

func readToken(c *Config) ([]byte, error) {
	if c.Token != "" {
		return []byte(strings.TrimSpace(c.Token)), nil
	}
	if c.TokenFile != "" {
		b, err := os.ReadFile(c.TokenFile)
		if err != nil {
			return nil, err
		}
		if len(b) != token.Size {
			// Base64 transport form; strip the trailing newline.
			b = bytes.TrimSpace(b)
		}
		return b, nil
	}
	return nil, errors.New("POMELO_TOKEN or POMELO_TOKEN_FILE must be set")
}

func parseModes(names []string) ([]pomelo.ChannelMode, error) {
	var modes []pomelo.ChannelMode
	for _, n := range names {
		switch strings.TrimSpace(n) {
		case "unreliable":
			modes = append(modes, pomelo.ChannelUnreliable)
		case "sequenced":
			modes = append(modes, pomelo.ChannelSequenced)
		case "reliable":
			modes = append(modes, pomelo.ChannelReliable)
		default:
			return nil, fmt.Errorf("unknown channel mode %q", n)
		}
	}
	if len(modes) == 0 {
		return nil, errors.New("at least one channel mode is required")
	}
	return modes, nil
}

// loadEnvFile reads an env file into KEY=VALUE form for UnmarshalEnv.
func loadEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	kv, err := envparse.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	environ := make([]string, 0, len(kv))
	for k, v := range kv {
		environ = append(environ, k+"="+v)
	}
	return environ, nil
}
