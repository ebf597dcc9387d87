package intr

import "sync/atomic"

// A Reason is a cause for an interrupt. Each reason owns a fixed bit in the
// status register, matching the virtio-mmio InterruptStatus layout.
type Reason uint32

const (
	UsedBuffer   Reason = 1 << 0 // the device has used at least 1 buffer
	ConfigChange Reason = 1 << 1 // the configuration of the device has changed
)

// Status records which reasons have been signaled but not yet acknowledged.
// It is level-triggered, not edge-counted: signaling a reason that is
// already pending changes nothing. The zero value is an empty register.
// All methods are safe for concurrent use and none of them block.
type Status struct {
	bits atomic.Uint32
}

// Signal marks r pending.
func (s *Status) Signal(r Reason) {
	s.bits.Or(uint32(r))
}

// Acknowledge clears the reasons in mask and leaves the rest pending.
// Clearing a reason that isn't pending is a no-op. An Acknowledge racing a
// Signal of the same reason can land either way; the protocol is
// level-triggered, so a driver that cares re-reads Snapshot afterward.
func (s *Status) Acknowledge(mask uint32) {
	s.bits.And(^mask)
}

// Snapshot returns the pending reasons.
func (s *Status) Snapshot() uint32 {
	return s.bits.Load()
}
