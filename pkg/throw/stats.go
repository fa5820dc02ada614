package throw

import "sync/atomic"

// SessionStats shows statistics of a session or a client connection.
type SessionStats struct {
	MessagesReceived uint64 // total number of received messages
	MessagesSent     uint64 // total number of sent messages

	BytesReceived uint64 // total number of received bytes
	BytesSent     uint64 // total number of sent bytes

	Images uint64 // messages decoded through image codec
	Errors uint64 // failures that terminated a session or broke a client
}

func (s SessionStats) Add(x SessionStats) SessionStats {
	return SessionStats{
		MessagesReceived: s.MessagesReceived + x.MessagesReceived,
		MessagesSent:     s.MessagesSent + x.MessagesSent,
		BytesReceived:    s.BytesReceived + x.BytesReceived,
		BytesSent:        s.BytesSent + x.BytesSent,
		Images:           s.Images + x.Images,
		Errors:           s.Errors + x.Errors,
	}
}

func (s *SessionStats) Copy() (r SessionStats) {
	r.MessagesReceived = atomic.LoadUint64(&s.MessagesReceived)
	r.MessagesSent = atomic.LoadUint64(&s.MessagesSent)
	r.BytesReceived = atomic.LoadUint64(&s.BytesReceived)
	r.BytesSent = atomic.LoadUint64(&s.BytesSent)
	r.Images = atomic.LoadUint64(&s.Images)
	r.Errors = atomic.LoadUint64(&s.Errors)

	return
}
