// Package config exports throw settings as named configuration variables.
package config

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/mailru/throw/pkg/throw"
)

// Config describes an object that is capable to create configuration variables
// which could be changed from outside somehow.
//
// Method set matches *flag.FlagSet, so both flag sets and Values can be used.
type Config interface {
	Duration(string, time.Duration, string) *time.Duration
	Int(string, int, string) *int
	Int64(string, int64, string) *int64
	Bool(string, bool, string) *bool
	Float64(string, float64, string) *float64
	String(string, string, string) *string
}

// ExportSessionConfig exports flags with given prefix for server session
// configuration. It returns factory of throw.SessionConfig which will be
// filled with flags values.
func ExportSessionConfig(config Config, prefix string) func() (*throw.SessionConfig, error) {
	prefix = sanitize(prefix)

	var (
		readTimeout = config.Duration(
			prefix+"throw.read_timeout", 0,
			"read timeout (0 for infinity)",
		)
		writeTimeout = config.Duration(
			prefix+"throw.write_timeout", 0,
			"write timeout (0 for infinity)",
		)
		readBufferSize = config.Int(
			prefix+"throw.read_buffer_size", throw.DefaultReadBufferSize,
			"read buffer size in bytes",
		)
		sizeLimit = config.Int64(
			prefix+"throw.size_limit", throw.DefaultSizeLimit,
			"maximum payload size in bytes",
		)
		rateLimit = config.Float64(
			prefix+"throw.rate_limit", 0,
			"maximum requests per second for a single session (0 for unlimited)",
		)
		rateBurst = config.Int(
			prefix+"throw.rate_burst", 1,
			"request burst size for rate limit",
		)
		codecs = exportCodecs(config, prefix)
	)

	return func() (*throw.SessionConfig, error) {
		shortcut, policy, err := codecs()
		if err != nil {
			return nil, err
		}

		return &throw.SessionConfig{
			ReadTimeout:    *readTimeout,
			WriteTimeout:   *writeTimeout,
			ReadBufferSize: *readBufferSize,
			SizeLimit:      *sizeLimit,
			RateLimit:      rate.Limit(*rateLimit),
			RateBurst:      *rateBurst,
			ImageShortcut:  shortcut,
			CommandPolicy:  policy,
		}, nil
	}
}

// ExportClientConfig exports flags with given prefix for client
// configuration.
func ExportClientConfig(config Config, prefix string) func() (*throw.ClientConfig, error) {
	prefix = sanitize(prefix)

	var (
		connectTimeout = config.Duration(
			prefix+"throw.connect_timeout", 0,
			"single connect attempt timeout",
		)
		dialTimeout = config.Duration(
			prefix+"throw.dial_timeout", 0,
			"dial timeout including all attempts",
		)
		dialAttempts = config.Int(
			prefix+"throw.dial_attempts", throw.DefaultDialAttempts,
			"number of connect attempts",
		)
		redialInterval = config.Duration(
			prefix+"throw.redial_interval", throw.DefaultRedialInterval,
			"pause between connect attempts",
		)
		readTimeout = config.Duration(
			prefix+"throw.read_timeout", 0,
			"read timeout (0 for infinity)",
		)
		writeTimeout = config.Duration(
			prefix+"throw.write_timeout", 0,
			"write timeout (0 for infinity)",
		)
		sizeLimit = config.Int64(
			prefix+"throw.size_limit", throw.DefaultSizeLimit,
			"maximum payload size in bytes",
		)
		codecs = exportCodecs(config, prefix)
	)

	return func() (*throw.ClientConfig, error) {
		shortcut, policy, err := codecs()
		if err != nil {
			return nil, err
		}

		return &throw.ClientConfig{
			ConnectTimeout: *connectTimeout,
			DialTimeout:    *dialTimeout,
			DialAttempts:   *dialAttempts,
			RedialInterval: *redialInterval,
			ReadTimeout:    *readTimeout,
			WriteTimeout:   *writeTimeout,
			SizeLimit:      *sizeLimit,
			ImageShortcut:  shortcut,
			CommandPolicy:  policy,
		}, nil
	}
}

// ExportServerHandler exports handler wrapping flags. Returned function
// wraps handler with throw.RecoverHandler when recovery is enabled.
func ExportServerHandler(config Config, prefix string, log throw.Logger) func(throw.Handler) throw.Handler {
	prefix = sanitize(prefix)

	safe := config.Bool(
		prefix+"throw.handler.recover", false,
		"recover after handler panic and keep the session alive",
	)

	return func(h throw.Handler) throw.Handler {
		if *safe {
			return throw.RecoverHandler(h, log)
		}

		return h
	}
}

// ExportSessionConfigWithHandler is like ExportSessionConfig but also sets
// SessionConfig.Handler to h wrapped by wrapper.
func ExportSessionConfigWithHandler(config Config, prefix string, wrapper func(throw.Handler) throw.Handler) func(throw.Handler) (*throw.SessionConfig, error) {
	prefix = sanitize(prefix)

	session := ExportSessionConfig(config, prefix)

	return func(h throw.Handler) (*throw.SessionConfig, error) {
		c, err := session()
		if err != nil {
			return nil, err
		}

		c.Handler = wrapper(h)

		return c, nil
	}
}

func exportCodecs(config Config, prefix string) func() (throw.ImageShortcut, throw.CommandPolicy, error) {
	var (
		shortcut = config.String(
			prefix+"throw.image_shortcut", throw.ImageShortcutOn.String(),
			"decoding of 1xWx1 payloads: on, fallback or off",
		)
		policy = config.String(
			prefix+"throw.command_policy", throw.CommandStrict.String(),
			"encoding of non-ascii commands: strict or lenient",
		)
	)

	return func() (throw.ImageShortcut, throw.CommandPolicy, error) {
		s, err := throw.ParseImageShortcut(*shortcut)
		if err != nil {
			return 0, 0, err
		}

		p, err := throw.ParseCommandPolicy(*policy)
		if err != nil {
			return 0, 0, err
		}

		return s, p, nil
	}
}

func sanitize(p string) string {
	if n := len(p); n != 0 {
		if p[n-1] != '.' {
			return p + "."
		}
	}

	return p
}
