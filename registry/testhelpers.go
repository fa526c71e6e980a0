package registry

import (
	"weak"

	"github.com/flowproxy/core/flow"
)

// NewStreamHandlerHandleForTesting builds a standalone, strongly-anchored
// StreamHandlerHandle for use by other packages' tests that need a handle
// without running a full Load. The returned handle never fails to
// upgrade as long as the caller keeps a reference to the handler alive
// through its own test scope (typical of how test doubles are used).
func NewStreamHandlerHandleForTesting(h flow.StreamHandler) StreamHandlerHandle {
	box := &streamHandlerBox{v: h}
	testAnchors = append(testAnchors, box)
	return StreamHandlerHandle{ptr: weak.Make(box)}
}

// NewDatagramHandlerHandleForTesting is NewStreamHandlerHandleForTesting
// for DatagramSessionHandler.
func NewDatagramHandlerHandleForTesting(h flow.DatagramSessionHandler) DatagramHandlerHandle {
	box := &datagramHandlerBox{v: h}
	testAnchors = append(testAnchors, box)
	return DatagramHandlerHandle{ptr: weak.Make(box)}
}

// NewStreamOutboundHandleForTesting is NewStreamHandlerHandleForTesting
// for StreamOutboundFactory.
func NewStreamOutboundHandleForTesting(f flow.StreamOutboundFactory) StreamOutboundHandle {
	box := &streamOutboundBox{v: f}
	testAnchors = append(testAnchors, box)
	return StreamOutboundHandle{ptr: weak.Make(box)}
}

// NewDatagramOutboundHandleForTesting is NewStreamHandlerHandleForTesting
// for DatagramSessionFactory.
func NewDatagramOutboundHandleForTesting(f flow.DatagramSessionFactory) DatagramOutboundHandle {
	box := &datagramOutboundBox{v: f}
	testAnchors = append(testAnchors, box)
	return DatagramOutboundHandle{ptr: weak.Make(box)}
}

// testAnchors keeps test-constructed boxes strongly reachable for the
// lifetime of the process; these helpers exist to make weak handles easy
// to build in other packages' tests, not to model real sentinel teardown.
var testAnchors []any
