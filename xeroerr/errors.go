// Package xeroerr holds the error taxonomy shared by the client and worker
// protocol engines: a lost-peer sentinel, a remote-exception type, and a
// codec-error type.
package xeroerr

import (
	"errors"
	"fmt"
)

// ErrLostPeer is returned synchronously from RPC on timeout, from
// WaitForConnected on timeout, and from RPC/Emit when no peer is
// currently registered.
var ErrLostPeer = errors.New("uniproto: lost remote peer")

// ErrTimeout is returned from GetEmit when no message arrives before the
// deadline. It is distinct from ErrLostPeer: an empty emit queue says
// nothing about whether the peer is still alive.
var ErrTimeout = errors.New("uniproto: timed out waiting for a message")

// RemoteError is raised from RPC when an EXCEPTION frame arrives in reply
// to the pending call. It carries the decoded exception payload's structured fields
// straight through, rather than flattening them into a string.
type RemoteError struct {
	Class     string
	Message   string
	Traceback string
}

func (e *RemoteError) Error() string {
	if e.Class == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// CodecError is returned when a decoded mapping carries a "__type__" tag
// the codec does not recognize.
type CodecError struct {
	Tag string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("uniproto: codec does not know how to decode __type__ %q", e.Tag)
}
