// itserial/endpoint.go

package itserial

import "errors"

// MaxEndpoints is the number of transport endpoints a Registry can route to.
const MaxEndpoints = 6

// DefaultBufferSize is the ring size used when New is given a non-positive capacity.
const DefaultBufferSize = 256

var (
	// ErrBufferEmpty is returned by ReadByte when no byte has been received.
	ErrBufferEmpty = errors.New("itserial: buffer empty")

	// ErrBufferFull is returned by the write path when the outbound ring has no room.
	ErrBufferFull = errors.New("itserial: buffer full")

	// ErrBusy is returned by an Endpoint that cannot accept a transfer request yet.
	ErrBusy = errors.New("itserial: endpoint busy")

	// ErrUnknownEndpoint is returned when an EndpointID is outside the registry table.
	ErrUnknownEndpoint = errors.New("itserial: unknown endpoint")

	// ErrNotArmed is returned by Begin when the first receive could not be issued.
	ErrNotArmed = errors.New("itserial: receive not armed")
)

// EndpointID identifies a physical transport endpoint (UART0, UART1, ...).
type EndpointID uint8

// NotifyState is the opaque value returned by DisableNotify, to be handed back to
// RestoreNotify.
type NotifyState uintptr

// Endpoint is a transport that moves exactly one byte per request and reports
// completion asynchronously through a Registry (HandleInboundComplete /
// HandleOutboundComplete on the owning Port).
//
// Every method must be callable from the completion context and must not block.
type Endpoint interface {
	// ID returns the endpoint identity used as the Registry key.
	ID() EndpointID

	// IssueReceive requests one byte into dst[0]. A non-nil error means the
	// request was rejected (typically ErrBusy) and nothing is outstanding.
	IssueReceive(dst []byte) error

	// IssueTransmit requests transmission of src[0]. src must stay valid until
	// the outbound completion fires.
	IssueTransmit(src []byte) error

	// TxIdle reports whether no transmit request is outstanding.
	TxIdle() bool

	// AbortReceive cancels any pending receive request.
	AbortReceive() error

	// Unlock clears a stale lock left behind by a previous request.
	Unlock()

	// DisableNotify masks completion notifications for this endpoint until the
	// matching RestoreNotify.
	DisableNotify() NotifyState
	RestoreNotify(NotifyState)
}
