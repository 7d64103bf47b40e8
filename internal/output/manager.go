package output

import (
	"errors"
	"fmt"
)

// Sink receives every lifecycle event of a run.
type Sink interface {
	Write(e Event) error
	Close() error
}

// Manager fans events out to several sinks. A sink whose Write fails is
// detached: its error is reported once and it receives no further events,
// but it is still closed.
type Manager struct {
	sinks  []Sink
	broken []bool
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) AddSink(s Sink) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	if s == nil {
		return fmt.Errorf("sink must not be nil")
	}
	m.sinks = append(m.sinks, s)
	m.broken = append(m.broken, false)
	return nil
}

func (m *Manager) Write(e Event) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	var errs []error
	for i, s := range m.sinks {
		if m.broken[i] {
			continue
		}
		if err := s.Write(e); err != nil {
			m.broken[i] = true
			errs = append(errs, fmt.Errorf("write %s to %T: %w", e.Type, s, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors writing to sinks: %w", errors.Join(errs...))
	}
	return nil
}

func (m *Manager) Close() error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %T: %w", s, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing sinks: %w", errors.Join(errs...))
	}
	return nil
}
