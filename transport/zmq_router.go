package transport

import (
	"sync"

	zmq "github.com/pebbe/zmq4"
)

// RouterTransport binds a ZeroMQ ROUTER socket: the client side of the
// uni-client/uni-worker pairing. Inbound multi-part messages arrive with
// the sending peer's identity frame prepended automatically by the ZMTP
// ROUTER role; Send requires that identity as parts[0] so the socket knows
// which connected peer to route the frame to.
//
// One mutex guards writes since zmq4 sockets are not safe for concurrent
// Send calls from multiple goroutines.
type RouterTransport struct {
	sock *zmq.Socket
	mu   sync.Mutex
}

// NewRouterTransport creates and binds a ROUTER socket at endpoint (e.g.
// "tcp://*:5555" or "ipc:///tmp/uni.sock").
func NewRouterTransport(endpoint string) (*RouterTransport, error) {
	sock, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	return &RouterTransport{sock: sock}, nil
}

// Send writes parts as one multi-part ZMQ message. parts[0] must be the
// destination peer's identity frame.
func (r *RouterTransport) Send(parts [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.sock.SendMessage(toSendable(parts))
	return err
}

// Recv blocks for the next inbound multi-part message. The returned slice
// has the sending peer's identity as element 0.
func (r *RouterTransport) Recv() ([][]byte, error) {
	return r.sock.RecvMessageBytes(0)
}

// Close releases the underlying ZMQ socket.
func (r *RouterTransport) Close() error {
	return r.sock.Close()
}

func toSendable(parts [][]byte) []interface{} {
	out := make([]interface{}, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}
