package transport

import (
	"errors"
	"sync"
)

// MemoryRouter and MemoryDealer implement Socket entirely in-process over
// Go channels, simulating ROUTER/DEALER identity-framing semantics without
// a real ZMQ endpoint. They exist both for engine tests (client/worker
// tests never need a live zmq4 socket) and for same-process client/worker
// pairs that don't need a network hop.
type MemoryRouter struct {
	out       chan<- [][]byte
	in        <-chan [][]byte
	closeOnce sync.Once
	closed    chan struct{}
}

type MemoryDealer struct {
	identity  []byte
	out       chan<- [][]byte
	in        <-chan [][]byte
	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemoryPair creates a connected ROUTER/DEALER-equivalent socket pair.
// identity is the value the DEALER's frames will appear to come from, as
// if ZMQ had assigned it on connect.
func NewMemoryPair(identity string) (*MemoryRouter, *MemoryDealer) {
	toRouter := make(chan [][]byte, 256)
	toDealer := make(chan [][]byte, 256)
	r := &MemoryRouter{out: toDealer, in: toRouter, closed: make(chan struct{})}
	d := &MemoryDealer{identity: []byte(identity), out: toRouter, in: toDealer, closed: make(chan struct{})}
	return r, d
}

// Send routes parts to the paired dealer. parts[0] is the destination
// identity and is stripped before delivery, matching real ROUTER
// semantics where the peer on the other end never sees its own identity
// frame.
func (r *MemoryRouter) Send(parts [][]byte) error {
	if len(parts) == 0 {
		return errors.New("memory router: empty frame")
	}
	body := cloneParts(parts[1:])
	select {
	case r.out <- body:
		return nil
	case <-r.closed:
		return errors.New("memory router: closed")
	}
}

func (r *MemoryRouter) Recv() ([][]byte, error) {
	select {
	case msg, ok := <-r.in:
		if !ok {
			return nil, errors.New("memory router: closed")
		}
		return msg, nil
	case <-r.closed:
		return nil, errors.New("memory router: closed")
	}
}

func (r *MemoryRouter) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

// Send routes parts to the paired router, prepending this dealer's
// identity so the router's Recv sees it the way a real ROUTER socket
// would.
func (d *MemoryDealer) Send(parts [][]byte) error {
	framed := make([][]byte, 0, len(parts)+1)
	framed = append(framed, d.identity)
	framed = append(framed, cloneParts(parts)...)
	select {
	case d.out <- framed:
		return nil
	case <-d.closed:
		return errors.New("memory dealer: closed")
	}
}

func (d *MemoryDealer) Recv() ([][]byte, error) {
	select {
	case msg, ok := <-d.in:
		if !ok {
			return nil, errors.New("memory dealer: closed")
		}
		return msg, nil
	case <-d.closed:
		return nil, errors.New("memory dealer: closed")
	}
}

func (d *MemoryDealer) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

func cloneParts(parts [][]byte) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		cp := make([]byte, len(p))
		copy(cp, p)
		out[i] = cp
	}
	return out
}
