package throw

import "github.com/pkg/errors"

var (
	ErrDecoding                = errors.New("throw: malformed header")
	ErrEncoding                = errors.New("throw: command can not be encoded")
	ErrUnsupportedElementWidth = errors.New("throw: unsupported bytes per element")
	ErrUnsupportedDType        = errors.New("throw: unsupported tensor dtype")
	ErrShapeMismatch           = errors.New("throw: payload length does not match shape")
	ErrPayloadTooLarge         = errors.New("throw: payload size limit exceeded")
	ErrImageFormat             = errors.New("throw: payload is not a known image format")

	ErrConnection       = errors.New("throw: connection error")
	ErrConnectionClosed = errors.New("throw: connection closed by peer")
	ErrClientBroken     = errors.New("throw: client stream is out of sync")
	ErrServerClosed     = errors.New("throw: server closed")
	ErrHandlerPanic     = errors.New("throw: handler panic")
	ErrSessionServed    = errors.New("throw: session is already served")
)
