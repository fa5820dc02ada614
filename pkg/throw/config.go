package throw

import (
	"time"

	"github.com/gobwas/pool/pbytes"
	"golang.org/x/time/rate"
)

const (
	DefaultReadBufferSize = 4096

	DefaultDialAttempts   = 1
	DefaultRedialInterval = 100 * time.Millisecond
)

// BytePool describes an object that contains bytes buffer reuse logic.
type BytePool interface {
	// Get obtains buffer from pool with given length.
	Get(int) []byte
	// Put reclaims given buffer for further reuse.
	Put([]byte)
}

// BytePoolFunc returns BytePool that uses given get and put functions as its
// methods.
func BytePoolFunc(get func(int) []byte, put func([]byte)) BytePool {
	return &bytePool{get, put}
}

type bytePool struct {
	DoGet func(int) []byte
	DoPut func([]byte)
}

func (p *bytePool) Get(n int) []byte {
	if p.DoGet != nil {
		return p.DoGet(n)
	}

	return make([]byte, n)
}

func (p *bytePool) Put(bts []byte) {
	if p.DoPut != nil {
		p.DoPut(bts)
	}
}

var defaultBytePool = func(p *pbytes.Pool) BytePool {
	return BytePoolFunc(p.GetLen, p.Put)
}(pbytes.New(256, 1<<20))

// SessionConfig configures server side sessions.
type SessionConfig struct {
	// Handler is called for every received message. Nil handler replies
	// with empty command and no tensor.
	Handler Handler

	// ReadTimeout bounds every read from the connection, WriteTimeout every
	// write. Zero means no timeout.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	ReadBufferSize int
	SizeLimit      int64

	// RateLimit shapes dispatch rate of a single session in requests per
	// second. Zero means no limit.
	RateLimit rate.Limit
	RateBurst int

	ImageShortcut ImageShortcut
	ImageCodec    ImageCodec
	CommandPolicy CommandPolicy

	Logger   Logger
	Metric   Metric
	BytePool BytePool
}

func (sc *SessionConfig) withDefaults() (c SessionConfig) {
	if sc != nil {
		c = *sc
	}

	if c.Handler == nil {
		c.Handler = emptyHandler
	}

	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}

	if c.SizeLimit == 0 {
		c.SizeLimit = DefaultSizeLimit
	}

	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = 1
	}

	if c.ImageCodec == nil {
		c.ImageCodec = DefaultImageCodec
	}

	if c.Logger == nil {
		c.Logger = DefaultLogger{}
	}

	if c.Metric == nil {
		c.Metric = NoopMetric{}
	}

	if c.BytePool == nil {
		c.BytePool = defaultBytePool
	}

	return c
}

// ClientConfig configures Client.
type ClientConfig struct {
	// ConnectTimeout bounds a single connect attempt. DialTimeout bounds the
	// whole dial loop. Zero means no timeout.
	ConnectTimeout time.Duration
	DialTimeout    time.Duration

	// DialAttempts is the number of connect attempts. Zero means one.
	DialAttempts   int
	RedialInterval time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	SizeLimit int64

	ImageShortcut ImageShortcut
	ImageCodec    ImageCodec
	CommandPolicy CommandPolicy

	Logger   Logger
	Metric   Metric
	BytePool BytePool
}

func (cc *ClientConfig) withDefaults() (c ClientConfig) {
	if cc != nil {
		c = *cc
	}

	if c.DialAttempts == 0 {
		c.DialAttempts = DefaultDialAttempts
	}

	if c.RedialInterval == 0 {
		c.RedialInterval = DefaultRedialInterval
	}

	if c.SizeLimit == 0 {
		c.SizeLimit = DefaultSizeLimit
	}

	if c.ImageCodec == nil {
		c.ImageCodec = DefaultImageCodec
	}

	if c.Logger == nil {
		c.Logger = DefaultLogger{}
	}

	if c.Metric == nil {
		c.Metric = NoopMetric{}
	}

	if c.BytePool == nil {
		c.BytePool = defaultBytePool
	}

	return c
}
