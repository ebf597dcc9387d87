package intr_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/virtm-dev/virtm/virtio/intr"
	"golang.org/x/sync/errgroup"
)

var nopNotifier = intr.NotifierFunc(func() error { return nil })

func TestMMIO(t *testing.T) {
	t.Run("scenario", func(t *testing.T) {
		m := intr.NewMMIO(nopNotifier)
		if v := m.Status(); v != 0 {
			t.Fatalf("status %#x != 0", v)
		}

		if err := m.SignalUsedBuffer(); err != nil {
			t.Fatal(err)
		}

		if v := m.Status(); v != 0x1 {
			t.Errorf("status %#x != 0x1", v)
		}

		if err := m.SignalConfigChange(); err != nil {
			t.Fatal(err)
		}

		if v := m.Status(); v != 0x3 {
			t.Errorf("status %#x != 0x3", v)
		}

		m.Ack(0x1)
		if v := m.Status(); v != 0x2 {
			t.Errorf("status %#x != 0x2", v)
		}

		m.Ack(0x2)
		if v := m.Status(); v != 0 {
			t.Errorf("status %#x != 0", v)
		}
	})

	t.Run("notifier sees the bit already set", func(t *testing.T) {
		var (
			m    *intr.MMIO
			seen []uint32
		)

		m = intr.NewMMIO(intr.NotifierFunc(func() error {
			seen = append(seen, m.Status())
			return nil
		}))

		if err := m.SignalUsedBuffer(); err != nil {
			t.Fatal(err)
		}

		if err := m.SignalConfigChange(); err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]uint32{0x1, 0x3}, seen); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("notify failure keeps the used buffer bit", func(t *testing.T) {
		broken := errors.New("broken pipe")
		m := intr.NewMMIO(intr.NotifierFunc(func() error { return broken }))

		err := m.SignalUsedBuffer()
		if !errors.Is(err, intr.ErrSignalUsedBuffer) {
			t.Errorf("err %v is not ErrSignalUsedBuffer", err)
		}

		if !errors.Is(err, broken) {
			t.Errorf("err %v does not wrap the cause", err)
		}

		if v := m.Status(); v != 0x1 {
			t.Errorf("status %#x != 0x1", v)
		}
	})

	t.Run("notify failure keeps the config change bit", func(t *testing.T) {
		m := intr.NewMMIO(intr.NotifierFunc(func() error { return errors.New("nope") }))

		if err := m.SignalConfigChange(); !errors.Is(err, intr.ErrSignalConfigChange) {
			t.Errorf("err %v is not ErrSignalConfigChange", err)
		}

		if v := m.Status(); v != 0x2 {
			t.Errorf("status %#x != 0x2", v)
		}
	})

	t.Run("concurrent signals", func(t *testing.T) {
		m := intr.NewMMIO(nopNotifier)

		var g errgroup.Group
		for i := 0; i < 8; i++ {
			g.Go(m.SignalUsedBuffer)
			g.Go(m.SignalConfigChange)
		}

		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}

		if v := m.Status(); v != 0x3 {
			t.Errorf("status %#x != 0x3", v)
		}
	})

	t.Run("concurrent acks compose", func(t *testing.T) {
		m := intr.NewMMIO(nopNotifier)

		if err := m.SignalUsedBuffer(); err != nil {
			t.Fatal(err)
		}

		if err := m.SignalConfigChange(); err != nil {
			t.Fatal(err)
		}

		var g errgroup.Group
		g.Go(func() error { m.Ack(0x1); return nil })
		g.Go(func() error { m.Ack(0x2); return nil })

		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}

		if v := m.Status(); v != 0 {
			t.Errorf("status %#x != 0", v)
		}
	})
}
