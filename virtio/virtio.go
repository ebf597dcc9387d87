// Package virtio defines the contracts between virtio transports and the
// devices that ride them.
package virtio

import (
	"fmt"

	"github.com/virtm-dev/virtm/virtio/intr"
)

type DeviceConfig interface {
	NewHandler() (DeviceHandler, error)
}

type DeviceHandler interface {

	// GetType identifies the type of the device.
	GetType() DeviceID

	// GetFeatures returns additional feature bits supported by the device.
	GetFeatures() uint64

	// Ready is called after feature negotiation is complete.
	Ready(negotiatedFeatures uint64) error

	// Handle is called when the driver kicks a queue. It is called in a
	// separate goroutine per queueNum, and calls with the same queueNum do
	// not overlap. It's fine to block in Handle. Kicks are coalesced, so
	// Handle may only be called once in response to multiple driver
	// notifications. The device reports used buffers and config changes by
	// signaling q.Interrupt.
	Handle(queueNum int, q *Queue) error

	// ReadConfig reads the device configuration register at off into p.
	ReadConfig(p []byte, off int) error
}

// A Queue describes one virtqueue as the driver configured it. Descriptor
// processing belongs to the device; the transport only hands over the ring
// geometry, guest memory access, and the interrupt signaler.
type Queue struct {

	// NumDesc is the size of the ring in descriptors.
	NumDesc uint32

	// DescAddr, DriverAddr, and DeviceAddr are the guest physical
	// addresses of the descriptor area, driver area, and device area.
	DescAddr   uint64
	DriverAddr uint64
	DeviceAddr uint64

	// MemAt maps guest physical memory for ring and buffer access.
	MemAt func(addr uint64, size int) ([]byte, error)

	// Interrupt reports device events to the driver.
	Interrupt intr.Signaler
}

// DeviceID identifies the type of a virtio device.
type DeviceID uint32

const (
	InvalidDeviceID = DeviceID(0)
	NetworkDeviceID = DeviceID(1)
	BlockDeviceID   = DeviceID(2)
	ConsoleDeviceID = DeviceID(3)
	SocketDeviceID  = DeviceID(19)
)

const (
	MagicValue = 0x74726976 // "virt"
	Version    = 0x2
)

const (

	// FIndirectDesc (VIRTIO_F_INDIRECT_DESC) allows descriptors with the
	// indirect flag set.
	FIndirectDesc = 1 << 28

	// FEventIdx (VIRTIO_F_EVENT_IDX) enables the used_event and avail_event
	// fields for notification suppression.
	FEventIdx = 1 << 29

	// FVersion1 (VIRTIO_F_VERSION_1) indicates compliance with the modern
	// virtio specification.
	FVersion1 = 1 << 32

	// FRingPacked (VIRTIO_F_RING_PACKED) indicates support for the packed
	// virtqueue layout.
	FRingPacked = 1 << 34
)

// RequiredFeatures are the feature bits negotiated for all virtio devices.
const RequiredFeatures = FVersion1 | FRingPacked | FIndirectDesc | FEventIdx

func (id DeviceID) String() string {
	switch id {
	case InvalidDeviceID:
		return "invalid"

	case NetworkDeviceID:
		return "network"

	case BlockDeviceID:
		return "block"

	case ConsoleDeviceID:
		return "console"

	case SocketDeviceID:
		return "socket"

	default:
		return fmt.Sprintf("DeviceID(%d)", id)
	}
}
