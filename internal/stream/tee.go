package stream

import (
	"bytes"
	"io"
)

// Sink receives a private copy of every chunk read from a mirrored body.
type Sink func(chunk []byte)

type mirroredBody struct {
	body io.ReadCloser
	sink Sink
}

// MirrorBody wraps body so each chunk read by the session is also handed to
// sink, in read order. Closing the wrapper closes body.
func MirrorBody(body io.ReadCloser, sink Sink) io.ReadCloser {
	if sink == nil {
		return body
	}
	return &mirroredBody{body: body, sink: sink}
}

func (m *mirroredBody) Read(p []byte) (int, error) {
	n, err := m.body.Read(p)
	if n > 0 {
		m.sink(bytes.Clone(p[:n]))
	}
	return n, err
}

func (m *mirroredBody) Close() error {
	return m.body.Close()
}
