package intr

import "fmt"

// MMIO signals interrupts for one virtio-mmio device. Every signal sets the
// status bit for its reason before the notifier runs, so by the time the
// guest observes an interrupt the InterruptStatus register already explains
// it. A notify failure is returned to the device, but the status bit stays
// set: the event happened whether or not the guest heard about it, and the
// driver can still see it on its next status read.
type MMIO struct {
	status Status
	notify Notifier
}

var _ Controller = (*MMIO)(nil)

// NewMMIO returns a controller that reports interrupts through n.
func NewMMIO(n Notifier) *MMIO {
	return &MMIO{notify: n}
}

func (m *MMIO) SignalUsedBuffer() error {
	m.status.Signal(UsedBuffer)
	if err := m.notify.Notify(); err != nil {
		return fmt.Errorf("%w: %w", ErrSignalUsedBuffer, err)
	}

	return nil
}

func (m *MMIO) SignalConfigChange() error {
	m.status.Signal(ConfigChange)
	if err := m.notify.Notify(); err != nil {
		return fmt.Errorf("%w: %w", ErrSignalConfigChange, err)
	}

	return nil
}

// Ack answers a guest write of the InterruptACK register.
func (m *MMIO) Ack(mask uint32) {
	m.status.Acknowledge(mask)
}

// Status answers a guest read of the InterruptStatus register.
func (m *MMIO) Status() uint32 {
	return m.status.Snapshot()
}
