package transport

import (
	"bytes"
	"sync"
)

const pipeBuffer = 64

type pipeState struct {
	once   sync.Once
	closed chan struct{}
}

func (s *pipeState) close() {
	s.once.Do(func() { close(s.closed) })
}

type pipeEnd struct {
	name  string
	in    <-chan []byte
	out   chan<- []byte
	state *pipeState
}

// Pipe returns two connected in-memory ends. Closing either end closes both,
// like a dropped socket; frames already queued are still delivered.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	state := &pipeState{closed: make(chan struct{})}
	return &pipeEnd{name: "pipe-b", in: ba, out: ab, state: state},
		&pipeEnd{name: "pipe-a", in: ab, out: ba, state: state}
}

func (p *pipeEnd) Send(data []byte) error {
	select {
	case <-p.state.closed:
		return ErrClosed
	default:
	}

	select {
	case p.out <- bytes.Clone(data):
		return nil
	case <-p.state.closed:
		return ErrClosed
	}
}

func (p *pipeEnd) Receive() ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	default:
	}

	select {
	case data := <-p.in:
		return data, nil
	case <-p.state.closed:
		return nil, ErrClosed
	}
}

func (p *pipeEnd) Close() error {
	p.state.close()
	return nil
}

func (p *pipeEnd) RemoteAddr() string {
	return p.name
}
