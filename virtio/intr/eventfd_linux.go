package intr

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// Eventfd is a Notifier backed by a Linux eventfd. A VMM can hand the
// descriptor to the hypervisor (KVM irqfd) so that a notify reaches the
// guest with no further userspace involvement. Notifies accumulate in the
// eventfd counter until the consumer reads it.
type Eventfd struct {
	fd int
}

// NewEventfd creates an eventfd with a zero counter.
func NewEventfd() (*Eventfd, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &Eventfd{fd: fd}, nil
}

// Notify adds 1 to the eventfd counter, waking the consumer.
func (e *Eventfd) Notify() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)

	if _, err := unix.Write(e.fd, buf[:]); err != nil {
		return err
	}

	return nil
}

// Fd returns the descriptor, for irqfd registration or polling.
func (e *Eventfd) Fd() int {
	return e.fd
}

func (e *Eventfd) Close() error {
	return unix.Close(e.fd)
}
