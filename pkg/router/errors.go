package router

import "errors"

var (
	ErrNilPacket        = errors.New("nil mesh packet")
	ErrTransportFailure = errors.New("radio transport failure")
)

// TransportError wraps whatever the radio interface reported. The packet was
// not relayed and not recorded as seen, so the caller may retry it.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "radio send failed: " + e.Err.Error()
}

// Unwrap lets errors.Is match both ErrTransportFailure and the transport's own error.
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransportFailure, e.Err}
}

// MergeError reports that the node database could not use the packet. The
// packet was still relayed and recorded as seen.
type MergeError struct {
	Err error
}

func (e *MergeError) Error() string {
	return "packet relayed, node db not updated: " + e.Err.Error()
}

func (e *MergeError) Unwrap() error {
	return e.Err
}
