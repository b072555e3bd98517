//go:build !inflightdebug

package command

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/inflight/gpu"
	"github.com/vkngwrapper/inflight/gputest"
)

func TestMisuse(t *testing.T) {
	tests := []struct {
		name string
		run  func(m *Manager) error
	}{
		{"end without begin", func(m *Manager) error {
			return m.End(gpu.LaneCompute, 0)
		}},
		{"submit without end", func(m *Manager) error {
			if _, err := m.Begin(gpu.LaneCompute, 0); err != nil {
				return nil
			}
			return m.Submit(gpu.LaneCompute, 0, nil, nil, nil)
		}},
		{"begin twice", func(m *Manager) error {
			if _, err := m.Begin(gpu.LaneTransfer, 2); err != nil {
				return nil
			}
			_, err := m.Begin(gpu.LaneTransfer, 2)
			return err
		}},
		{"slot out of range", func(m *Manager) error {
			_, err := m.Begin(gpu.LaneGraphics, 3)
			return err
		}},
		{"unknown lane", func(m *Manager) error {
			return m.End(gpu.Lane(7), 0)
		}},
		{"after destroy", func(m *Manager) error {
			m.Destroy()
			_, err := m.Begin(gpu.LaneGraphics, 0)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, gputest.NewDevice())
			if err := tt.run(m); !errors.Is(err, gpu.ErrInvalidState) {
				t.Errorf("got %v, want ErrInvalidState", err)
			}
		})
	}
}
