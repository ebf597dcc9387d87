package intr_test

import (
	"testing"

	"github.com/virtm-dev/virtm/virtio/intr"
)

func TestStatus(t *testing.T) {
	t.Run("zero value is clear", func(t *testing.T) {
		var s intr.Status
		if v := s.Snapshot(); v != 0 {
			t.Errorf("status %#x != 0", v)
		}
	})

	t.Run("signal sets the reason bit", func(t *testing.T) {
		var s intr.Status
		s.Signal(intr.UsedBuffer)
		if v := s.Snapshot(); v != 0x1 {
			t.Errorf("status %#x != 0x1", v)
		}
	})

	t.Run("signal is idempotent", func(t *testing.T) {
		var s intr.Status
		s.Signal(intr.ConfigChange)
		s.Signal(intr.ConfigChange)
		if v := s.Snapshot(); v != 0x2 {
			t.Errorf("status %#x != 0x2", v)
		}
	})

	t.Run("reasons or together", func(t *testing.T) {
		var s intr.Status
		s.Signal(intr.UsedBuffer)
		s.Signal(intr.ConfigChange)
		if v := s.Snapshot(); v != 0x3 {
			t.Errorf("status %#x != 0x3", v)
		}
	})

	t.Run("acknowledge clears only the masked bits", func(t *testing.T) {
		var s intr.Status
		s.Signal(intr.UsedBuffer)
		s.Signal(intr.ConfigChange)

		s.Acknowledge(uint32(intr.UsedBuffer))
		if v := s.Snapshot(); v != 0x2 {
			t.Errorf("status %#x != 0x2", v)
		}

		s.Acknowledge(uint32(intr.ConfigChange))
		if v := s.Snapshot(); v != 0 {
			t.Errorf("status %#x != 0", v)
		}
	})

	t.Run("acknowledge of a clear bit is a no-op", func(t *testing.T) {
		var s intr.Status
		s.Signal(intr.ConfigChange)
		s.Acknowledge(uint32(intr.UsedBuffer))
		if v := s.Snapshot(); v != 0x2 {
			t.Errorf("status %#x != 0x2", v)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		var s intr.Status
		before := s.Snapshot()
		s.Signal(intr.UsedBuffer)
		s.Acknowledge(uint32(intr.UsedBuffer))
		if v := s.Snapshot(); v != before {
			t.Errorf("status %#x != %#x", v, before)
		}
	})
}
