package throw

// Message is a header followed by its raw payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage builds message carrying t as raw tensor payload.
// Nil t gives message without payload.
func NewMessage(command string, t *Tensor) (Message, error) {
	h, err := TensorHeader(command, t)
	if err != nil {
		return Message{}, err
	}

	if t == nil {
		return Message{Header: h}, nil
	}

	p, err := AppendTensor(make([]byte, 0, h.PayloadSize()), t)
	if err != nil {
		return Message{}, err
	}

	return Message{Header: h, Payload: p}, nil
}

// NewImageMessage builds message carrying an encoded image file. Its header
// has the (1, len(encoded), 1) shape with one byte per element so receivers
// decode the payload with an image codec.
func NewImageMessage(command string, encoded []byte) Message {
	return Message{
		Header: Header{
			Command:         command,
			Height:          1,
			Width:           int32(len(encoded)),
			Depth:           1,
			BytesPerElement: 1,
		},
		Payload: encoded,
	}
}

// Tensor decodes message payload. It returns nil tensor when the message has
// no payload.
func (m Message) Tensor(codec ImageCodec, mode ImageShortcut) (*Tensor, error) {
	if m.Header.PayloadSize() == 0 {
		return nil, nil
	}

	return DecodePayload(m.Header, m.Payload, codec, mode)
}

// MarshalMessage returns binary representation of m.
func MarshalMessage(m Message, policy CommandPolicy) ([]byte, error) {
	if err := checkPayload(m); err != nil {
		return nil, err
	}

	p := make([]byte, HeaderSize+len(m.Payload))
	if err := PutHeader(p, m.Header, policy); err != nil {
		return nil, err
	}

	copy(p[HeaderSize:], m.Payload)

	return p, nil
}
