package transport

import (
	"context"
	"io"
	"sync"
)

// MockConn is an in-process Conn for tests and keyless dev runs.
type MockConn struct {
	in  chan []byte
	out chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func NewMockConn() *MockConn {
	return &MockConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// PushCallerAudio feeds audio that ReadAudio will return.
func (c *MockConn) PushCallerAudio(pcm []byte) {
	select {
	case <-c.closed:
	case c.in <- pcm:
	}
}

// ReplyAudio exposes everything written via WriteAudio.
func (c *MockConn) ReplyAudio() <-chan []byte { return c.out }

func (c *MockConn) ReadAudio(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	case pcm, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return pcm, nil
	}
}

func (c *MockConn) WriteAudio(ctx context.Context, pcm []byte) error {
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	case c.out <- cp:
		return nil
	}
}

func (c *MockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
