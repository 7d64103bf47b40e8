package output

import (
	"errors"
	"strings"
	"testing"
)

type recordingSink struct {
	writes   []string
	writeErr error
	closeErr error
	closed   bool
}

func (s *recordingSink) Write(e Event) error {
	s.writes = append(s.writes, e.Type)
	return s.writeErr
}

func (s *recordingSink) Close() error {
	s.closed = true
	return s.closeErr
}

func TestManager(t *testing.T) {
	t.Run("writes to all sinks", func(t *testing.T) {
		a := &recordingSink{}
		b := &recordingSink{}

		mgr := NewManager()
		if err := mgr.AddSink(a); err != nil {
			t.Fatalf("AddSink(a) error: %v", err)
		}
		if err := mgr.AddSink(b); err != nil {
			t.Fatalf("AddSink(b) error: %v", err)
		}

		if err := mgr.Write(Event{Type: EventRunStarted}); err != nil {
			t.Fatalf("Write error: %v", err)
		}
		if err := mgr.Write(Event{Type: EventRunFinished}); err != nil {
			t.Fatalf("Write error: %v", err)
		}
		if err := mgr.Close(); err != nil {
			t.Fatalf("Close() error: %v", err)
		}

		for name, s := range map[string]*recordingSink{"a": a, "b": b} {
			if got := strings.Join(s.writes, ","); got != "run.started,run.finished" {
				t.Fatalf("sink %s writes = %q", name, got)
			}
			if !s.closed {
				t.Fatalf("sink %s not closed", name)
			}
		}
	})

	t.Run("AddSink rejects nil", func(t *testing.T) {
		mgr := NewManager()
		if err := mgr.AddSink(nil); err == nil {
			t.Fatalf("AddSink(nil) want error, got nil")
		}
	})

	t.Run("failing sink is detached after its first error", func(t *testing.T) {
		bad := &recordingSink{writeErr: errors.New("disk full")}
		good := &recordingSink{}
		mgr := NewManager()
		_ = mgr.AddSink(bad)
		_ = mgr.AddSink(good)

		err := mgr.Write(VerdictEvent("alpha", true, "ok", ""))
		if err == nil {
			t.Fatalf("Write want error, got nil")
		}
		for _, want := range []string{"errors writing to sinks", "disk full", "project.verdict"} {
			if !strings.Contains(err.Error(), want) {
				t.Fatalf("Write error missing %q; got: %s", want, err)
			}
		}

		if err := mgr.Write(Event{Type: EventRunFinished}); err != nil {
			t.Fatalf("detached sink must not be retried, got %v", err)
		}
		if len(bad.writes) != 1 || len(good.writes) != 2 {
			t.Fatalf("writes: bad=%v good=%v", bad.writes, good.writes)
		}

		if err := mgr.Close(); err != nil {
			t.Fatalf("Close() error: %v", err)
		}
		if !bad.closed {
			t.Fatalf("detached sink must still be closed")
		}
	})

	t.Run("Close aggregates sink errors", func(t *testing.T) {
		a := &recordingSink{closeErr: errors.New("close-a")}
		b := &recordingSink{closeErr: errors.New("close-b")}
		mgr := NewManager()
		_ = mgr.AddSink(a)
		_ = mgr.AddSink(b)

		err := mgr.Close()
		if err == nil {
			t.Fatalf("Close want error, got nil")
		}
		for _, want := range []string{"errors closing sinks", "close-a", "close-b", "recordingSink"} {
			if !strings.Contains(err.Error(), want) {
				t.Fatalf("Close error missing %q; got: %s", want, err)
			}
		}
	})
}
