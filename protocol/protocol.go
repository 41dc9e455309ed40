// Package protocol defines the wire framing for the uni-client/uni-worker
// RPC runtime: the message type byte enum, the client-side header prefix,
// the liveness/timeout constants, and the frame builder/parser functions
// both protocol engines use.
//
// Framing rides on top of ZeroMQ's multi-part messages: each logical
// frame is a []byte slice, and transport.Socket is responsible for
// preserving part boundaries. This package only defines what the parts
// mean.
package protocol

import (
	"fmt"
	"time"
)

// MsgType is the one-byte opcode that leads every frame (after the client
// header, on client->worker frames).
type MsgType byte

const (
	Ready        MsgType = 0x01
	Request      MsgType = 0x02
	PartialReply MsgType = 0x03
	FinalReply   MsgType = 0x04
	Emit         MsgType = 0x05
	Heartbeat    MsgType = 0x06
	Disconnect   MsgType = 0x07
	// MulticastAdd is reserved for a future multicast extension. No
	// producer emits it; receivers fall through to the unknown-type
	// drop path.
	MulticastAdd MsgType = 0x08
	Exception    MsgType = 0x09
	// WorkerError is reserved, symmetric with MulticastAdd.
	WorkerError MsgType = 0x0A
)

func (t MsgType) String() string {
	switch t {
	case Ready:
		return "READY"
	case Request:
		return "REQUEST"
	case PartialReply:
		return "PARTIAL_REPLY"
	case FinalReply:
		return "FINAL_REPLY"
	case Emit:
		return "EMIT"
	case Heartbeat:
		return "HEARTBEAT"
	case Disconnect:
		return "DISCONNECT"
	case MulticastAdd:
		return "MULTICAST_ADD"
	case Exception:
		return "EXCEPTION"
	case WorkerError:
		return "WORKER_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// ClientHeader is prepended (as its own frame part) to every frame a
// client sends to a worker, letting a worker's DEALER socket distinguish a
// genuine client frame from noise. It has no analog on the worker->client
// direction, since a client's ROUTER socket already knows which identity
// sent a frame.
const ClientHeader = "client"

// Liveness and timeout constants.
const (
	HBInterval            = time.Second
	HBLiveness            = 3
	RPCTimeout            = 5 * time.Second
	InitialConnectionTime = 3200 * time.Millisecond
)

// ErrShortFrame is returned when a frame has fewer parts than its message
// type requires.
type ErrShortFrame struct {
	Context string
	Got     int
}

func (e *ErrShortFrame) Error() string {
	return fmt.Sprintf("protocol: %s: short frame (%d parts)", e.Context, e.Got)
}

// ErrMissingHeader is returned when a client->worker frame is missing the
// expected ClientHeader prefix.
type ErrMissingHeader struct{}

func (e *ErrMissingHeader) Error() string {
	return "protocol: frame missing client header"
}

// --- client -> worker frames (header-prefixed) ---

// ClientRequestFrame builds a REQUEST frame: header, type, method name,
// packed args, packed kwargs.
func ClientRequestFrame(method string, packedArgs, packedKwargs []byte) [][]byte {
	return [][]byte{
		[]byte(ClientHeader),
		{byte(Request)},
		[]byte(method),
		packedArgs,
		packedKwargs,
	}
}

// ClientHeartbeatFrame builds a bare HEARTBEAT frame sent client->worker.
func ClientHeartbeatFrame() [][]byte {
	return [][]byte{[]byte(ClientHeader), {byte(Heartbeat)}}
}

// ParseClientHeader validates and strips the ClientHeader prefix from an
// inbound frame (as seen by a worker's DEALER socket) and returns the
// message type plus the remaining parts.
func ParseClientHeader(parts [][]byte) (MsgType, [][]byte, error) {
	if len(parts) < 1 {
		return 0, nil, &ErrShortFrame{Context: "client frame", Got: len(parts)}
	}
	if string(parts[0]) != ClientHeader {
		return 0, nil, &ErrMissingHeader{}
	}
	if len(parts) < 2 {
		return 0, nil, &ErrShortFrame{Context: "client frame", Got: len(parts)}
	}
	return MsgType(parts[1][0]), parts[2:], nil
}

// --- worker -> client frames (bare, no header) ---

// WorkerReadyFrame builds a bare READY frame.
func WorkerReadyFrame() [][]byte {
	return [][]byte{{byte(Ready)}}
}

// WorkerHeartbeatFrame builds a bare HEARTBEAT frame sent worker->client.
func WorkerHeartbeatFrame() [][]byte {
	return [][]byte{{byte(Heartbeat)}}
}

// WorkerDisconnectFrame builds a bare DISCONNECT frame.
func WorkerDisconnectFrame() [][]byte {
	return [][]byte{{byte(Disconnect)}}
}

// WorkerReplyFrame builds a PARTIAL_REPLY, FINAL_REPLY or EXCEPTION frame
// carrying a packed payload. kind must be one of those three types.
func WorkerReplyFrame(kind MsgType, packedPayload []byte) [][]byte {
	return [][]byte{{byte(kind)}, {}, packedPayload}
}

// WorkerEmitFrame builds an EMIT frame carrying a packed payload.
func WorkerEmitFrame(packedPayload []byte) [][]byte {
	return [][]byte{{byte(Emit)}, {}, packedPayload}
}

// ParseBareFrame parses a worker->client frame with no header prefix (as
// seen by a client's ROUTER socket, after the identity part has already
// been stripped by the caller).
func ParseBareFrame(parts [][]byte) (MsgType, [][]byte, error) {
	if len(parts) < 1 {
		return 0, nil, &ErrShortFrame{Context: "worker frame", Got: len(parts)}
	}
	if len(parts[0]) < 1 {
		return 0, nil, &ErrShortFrame{Context: "worker frame type byte", Got: 0}
	}
	return MsgType(parts[0][0]), parts[1:], nil
}
