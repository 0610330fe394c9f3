package main

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config contains the configuration for the example client. The env struct
// tag names the environment variable, with an optional default after "=";
// a trailing "?" on the name lets an explicitly empty variable override the
// default. String lists are comma-separated.
type Config struct {
	// The connect token in URL-safe base64 form.
	Token string `env:"POMELO_TOKEN"`

	// Path to a file holding the connect token (raw or base64). Used when
	// POMELO_TOKEN is not set.
	TokenFile string `env:"POMELO_TOKEN_FILE"`

	// Channel modes in index order: unreliable, sequenced, or reliable.
	Channels []string `env:"POMELO_CHANNELS?=reliable,unreliable"`

	// Scheme for the signaling endpoint (ws or wss).
	SignalingScheme string `env:"POMELO_SIGNALING_SCHEME=ws"`

	// Request path on the signaling server.
	SignalingPath string `env:"POMELO_SIGNALING_PATH=/"`

	// STUN/TURN server URLs for ICE. If empty, only host candidates are
	// gathered.
	ICEServers []string `env:"POMELO_ICE_SERVERS"`

	// The minimum log level (e.g., trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"POMELO_LOG_LEVEL=info"`

	// Whether to use pretty logs.
	LogPretty bool `env:"POMELO_LOG_PRETTY=true"`

	// The address to expose Prometheus metrics on. Empty disables the
	// endpoint.
	MetricsAddr string `env:"POMELO_METRICS_ADDR"`

	// How often to log the session round-trip estimate.
	RTTLogInterval time.Duration `env:"POMELO_RTT_LOG_INTERVAL=5s"`
}

// UnmarshalEnv fills c from a list of KEY=VALUE strings. With incremental
// set, fields whose variable is absent keep their current value instead of
// reverting to the tag default. Unknown non-empty POMELO_ variables are an
// error so typos don't silently do nothing.
func (c *Config) UnmarshalEnv(environ []string, incremental bool) error {
	vars := make(map[string]string)
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, "POMELO_") {
			vars[k] = v
		}
	}

	rv := reflect.ValueOf(c).Elem()
	for _, field := range reflect.VisibleFields(rv.Type()) {
		tag, tagged := field.Tag.Lookup("env")
		if !tagged {
			continue
		}
		name, def, _ := strings.Cut(tag, "=")
		emptyOverrides := strings.HasSuffix(name, "?")
		name = strings.TrimSuffix(name, "?")

		raw, present := vars[name]
		delete(vars, name)

		if !present {
			if incremental {
				continue
			}
			raw = def
		} else if raw == "" && !emptyOverrides {
			raw = def
		}

		if err := setField(rv.FieldByIndex(field.Index), raw); err != nil {
			return fmt.Errorf("%s=%q: %w", name, raw, err)
		}
	}

	for name, v := range vars {
		if v != "" {
			return fmt.Errorf("unrecognized variable %s", name)
		}
	}
	return nil
}

// setField parses raw into the config field behind v. An empty raw yields
// the type's zero value, except for a log level, which becomes
// zerolog.NoLevel.
func setField(v reflect.Value, raw string) error {
	switch dst := v.Addr().Interface().(type) {
	case *string:
		*dst = raw
	case *[]string:
		*dst = nil
		if raw != "" {
			*dst = strings.Split(raw, ",")
		}
	case *bool:
		*dst = false
		if raw != "" {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return err
			}
			*dst = b
		}
	case *time.Duration:
		*dst = 0
		if raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}
			*dst = d
		}
	case *zerolog.Level:
		lvl, err := zerolog.ParseLevel(raw)
		if err != nil {
			return err
		}
		*dst = lvl
	default:
		return fmt.Errorf("field type %T is not supported", dst)
	}
	return nil
}
