package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

const (
	markPass = "✔"
	markFail = "✖"
)

type ConsoleSink struct {
	writer io.Writer
	format string // "text", "ndjson"
	mu     sync.Mutex

	pass *color.Color
	fail *color.Color
}

// NewConsoleSink writes to w (stdout when nil). Text output is coloured only
// when writing to a terminal.
func NewConsoleSink(w io.Writer, format string) *ConsoleSink {
	colored := false
	if w == nil {
		w = os.Stdout
		colored = !color.NoColor
	}
	if format == "" {
		format = "text"
	}

	s := &ConsoleSink{
		writer: w,
		format: format,
		pass:   color.New(color.FgGreen),
		fail:   color.New(color.FgRed),
	}
	if colored {
		s.pass.EnableColor()
		s.fail.EnableColor()
	} else {
		s.pass.DisableColor()
		s.fail.DisableColor()
	}
	return s
}

func (s *ConsoleSink) Write(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(e)
}

func (s *ConsoleSink) writeLocked(e Event) error {
	switch s.format {
	case "ndjson":
		if err := json.NewEncoder(s.writer).Encode(e); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text":
		var err error
		switch e.Type {
		case EventProjectVerdict:
			if e.passed() {
				err = s.line(s.pass, markPass, e.Message)
			} else {
				err = s.line(s.fail, markFail, e.Message)
			}
		case EventRunFailed:
			err = s.line(s.fail, markFail, e.Message)
		case EventRunFinished:
			switch {
			case e.Aborted:
				return nil
			case e.ExitCode == 0:
				err = s.line(s.pass, markPass, "Success")
			default:
				err = s.line(s.fail, markFail, "Fail")
			}
		default:
			// run.started carries nothing for humans.
			return nil
		}
		if err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) line(c *color.Color, mark, msg string) error {
	_, err := c.Fprintf(s.writer, "%s %s\n", mark, msg)
	return err
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format != "text" && s.format != "ndjson" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return flushIfPossible(s.writer)
}

type flusher interface {
	Flush() error
}

func flushIfPossible(w io.Writer) error {
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
