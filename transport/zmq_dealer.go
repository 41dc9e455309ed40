package transport

import (
	"sync"

	zmq "github.com/pebbe/zmq4"
)

// DealerTransport connects a ZeroMQ DEALER socket: the worker side of the
// uni-client/uni-worker pairing. DEALER has no identity framing on receive
// — the engine supplies its own ClientHeader/opcode framing on top.
type DealerTransport struct {
	sock *zmq.Socket
	mu   sync.Mutex
}

// NewDealerTransport creates and connects a DEALER socket to endpoint.
func NewDealerTransport(endpoint string) (*DealerTransport, error) {
	sock, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Connect(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	return &DealerTransport{sock: sock}, nil
}

func (d *DealerTransport) Send(parts [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sock.SendMessage(toSendable(parts))
	return err
}

func (d *DealerTransport) Recv() ([][]byte, error) {
	return d.sock.RecvMessageBytes(0)
}

func (d *DealerTransport) Close() error {
	return d.sock.Close()
}
