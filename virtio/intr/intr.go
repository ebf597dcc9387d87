// Package intr implements interrupt signaling for virtio transports: an
// abstract notification sink, a shared interrupt status register, and the
// mmio realization that combines them into the operations devices call.
package intr

import "errors"

// A Notifier causes the guest to observe a pending interrupt. The delivery
// mechanism is opaque to the caller, and so are its latency and coalescing
// behavior. Notify is safe to call concurrently and must not block
// indefinitely. A single Notifier may be shared by several controllers
// driving one interrupt line.
type Notifier interface {
	Notify() error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func() error

func (f NotifierFunc) Notify() error {
	return f()
}

// A Signaler is the device-facing side of a transport interrupt controller.
// Devices report events through it and never touch the notification sink or
// the status register directly.
type Signaler interface {

	// SignalUsedBuffer tells the driver the device has used at least one
	// buffer. Signals are level-triggered and may coalesce: the device must
	// not assume one signal produces one interrupt.
	SignalUsedBuffer() error

	// SignalConfigChange tells the driver the device configuration changed.
	SignalConfigChange() error
}

// A Controller extends Signaler with the driver-facing operations a
// transport needs to answer guest register accesses. MMIO is the only
// realization. A PCI transport with MSI-X enabled would satisfy Controller
// by sending a per-reason message vector instead of sharing a status
// register and a single line; the vector mapping is left to that transport.
type Controller interface {
	Signaler

	// Ack clears the reasons in mask.
	Ack(mask uint32)

	// Status returns the pending reasons.
	Status() uint32
}

var (
	ErrSignalUsedBuffer   = errors.New("intr: used buffer signal failed")
	ErrSignalConfigChange = errors.New("intr: config change signal failed")
)
