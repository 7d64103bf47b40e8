package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestConsoleSink_Text(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "passed verdict",
			event: VerdictEvent("alpha", true, "The commit for project 'alpha' is PASSED the analysis", ""),
			want:  "✔ The commit for project 'alpha' is PASSED the analysis\n",
		},
		{
			name:  "failed verdict",
			event: VerdictEvent("beta", false, "The commit for project 'beta' is FAILED the analysis\n\tReason: x", "x"),
			want:  "✖ The commit for project 'beta' is FAILED the analysis\n\tReason: x\n",
		},
		{
			name:  "run failed",
			event: Event{Type: EventRunFailed, Message: "[gamma] Project id NOT found for project name", ExitCode: 1},
			want:  "✖ [gamma] Project id NOT found for project name\n",
		},
		{
			name:  "run finished success",
			event: Event{Type: EventRunFinished, ExitCode: 0},
			want:  "✔ Success\n",
		},
		{
			name:  "run finished fail",
			event: Event{Type: EventRunFinished, ExitCode: 1},
			want:  "✖ Fail\n",
		},
		{
			name:  "run finished after abort is silent",
			event: Event{Type: EventRunFinished, ExitCode: 1, Aborted: true},
			want:  "",
		},
		{
			name:  "run started is silent",
			event: Event{Type: EventRunStarted, Projects: 3},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sink := NewConsoleSink(&buf, "text")
			if err := sink.Write(tt.event); err != nil {
				t.Fatalf("Write error: %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Fatalf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConsoleSink_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "ndjson")

	events := []Event{
		{Type: EventRunStarted, Projects: 1, Branch: "master", Commit: "abc"},
		VerdictEvent("alpha", false, "msg", "reason"),
		{Type: EventRunFinished, ExitCode: 1},
	}
	for _, e := range events {
		if err := sink.Write(e); err != nil {
			t.Fatalf("Write error: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(events) {
		t.Fatalf("expected %d lines, got %d: %q", len(events), len(lines), buf.String())
	}
	if !strings.Contains(lines[1], `"passed":false`) {
		t.Fatalf("explicit false must be encoded: %s", lines[1])
	}
	var last Event
	if err := json.Unmarshal([]byte(lines[2]), &last); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if last.Type != EventRunFinished || last.ExitCode != 1 {
		t.Fatalf("unexpected last event: %#v", last)
	}
}

func TestConsoleSink_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "xml")
	if err := sink.Write(Event{Type: EventRunStarted}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
	if err := sink.Close(); err == nil {
		t.Fatalf("expected error on Close for unsupported format")
	}
}
