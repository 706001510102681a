// Package demux implements the packet demultiplexer from §4.1: it sits
// ahead of the native game transport on the shared UDP listener and
// decides, from an 8-byte magic peek, whether a datagram belongs to
// HyQuery or must fall through untouched to whatever transport shares the
// port. The design notes model this as "a function from (datagram, next)
// to an action" rather than a framework hierarchy — Dispatch below is
// exactly that function.
package demux

import (
	"net"

	"github.com/hyquery/hyquery/internal/wire"
)

// Action is the demultiplexer's decision for one datagram.
type Action int

const (
	// ActionForward means the datagram is not HyQuery's concern; it must be
	// handed to Next unchanged.
	ActionForward Action = iota
	// ActionAnswered means the demultiplexer's handler consumed the
	// datagram and (if warranted) already wrote a response.
	ActionAnswered
	// ActionDropped means the datagram matched a HyQuery magic but must be
	// discarded without a response or forwarding.
	ActionDropped
)

// Handlers is the set of callbacks a listener installs to answer each
// classified datagram type. Any nil handler causes matching datagrams to
// be dropped rather than forwarded — matching §4.1's "recognized but not
// accepted" and disabled-protocol rows.
type Handlers struct {
	V1Enabled bool
	V2Enabled bool
	IsPrimary bool

	OnV1Query        func(data []byte, addr net.Addr)
	OnV2Query        func(data []byte, addr net.Addr)
	OnWorkerStatus   func(data []byte, addr net.Addr)
}

// Dispatch classifies data by its leading magic and either invokes the
// matching handler (returning ActionAnswered) or reports ActionDropped /
// ActionForward so the caller knows whether to hand the packet to the next
// transport. It never blocks: handlers are expected to do their own
// rate-limiting before any slow work, per the no-blocking-on-dispatch rule
// in §5.
func Dispatch(data []byte, addr net.Addr, h Handlers) Action {
	prefix, err := wire.PeekMagic(data)
	if err != nil {
		// Too short to carry any HyQuery magic; only a native transport
		// packet could be this small, so it always falls through.
		return ActionForward
	}

	switch wire.Classify(prefix) {
	case wire.ClassV1Query:
		if !h.V1Enabled || h.OnV1Query == nil {
			return ActionDropped
		}
		h.OnV1Query(data, addr)
		return ActionAnswered

	case wire.ClassV2Query:
		if !h.V2Enabled || h.OnV2Query == nil {
			return ActionDropped
		}
		h.OnV2Query(data, addr)
		return ActionAnswered

	case wire.ClassWorkerStatus:
		if !h.IsPrimary || h.OnWorkerStatus == nil {
			return ActionDropped
		}
		h.OnWorkerStatus(data, addr)
		return ActionAnswered

	case wire.ClassRecognizedButRejected:
		return ActionDropped

	default:
		return ActionForward
	}
}
