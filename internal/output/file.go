package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSink records the run to a file, typically a pipeline artifact.
//
// Formats:
//   - json: collects project.verdict events and writes one JSON array on Close.
//     The array is written to a temporary file and renamed into place, so an
//     interrupted run never leaves a truncated document behind.
//   - ndjson: streams every Event as it happens, one JSON object per line.
type FileSink struct {
	path   string
	format string
	file   *os.File
	enc    *json.Encoder

	mu       sync.Mutex
	verdicts []Event
}

// InferFormat maps an --out path to its output format.
func InferFormat(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return "json", nil
	case ".ndjson", ".jsonl":
		return "ndjson", nil
	case "":
		return "", fmt.Errorf("cannot infer output format from file extension (missing extension)")
	default:
		return "", fmt.Errorf("cannot infer output format from file extension %q", ext)
	}
}

func NewFileSink(path string, format string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("output path required")
	}
	if format == "" {
		var err error
		if format, err = InferFormat(path); err != nil {
			return nil, err
		}
	}
	if format != "json" && format != "ndjson" {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var (
		f   *os.File
		err error
	)
	if format == "json" {
		f, err = os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	} else {
		f, err = os.Create(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	return &FileSink{
		path:   path,
		format: format,
		file:   f,
		enc:    json.NewEncoder(f),
	}, nil
}

func (s *FileSink) Write(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "ndjson" {
		return s.enc.Encode(e)
	}
	if e.Type == EventProjectVerdict {
		s.verdicts = append(s.verdicts, e)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "ndjson" {
		return s.file.Close()
	}

	verdicts := s.verdicts
	if verdicts == nil {
		verdicts = []Event{}
	}
	s.enc.SetIndent("", "  ")
	err := s.enc.Encode(verdicts)
	if closeErr := s.file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(s.file.Name(), s.path)
	}
	if err != nil {
		_ = os.Remove(s.file.Name())
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
