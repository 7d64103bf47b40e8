package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"oqcpipe/internal/config"
	"oqcpipe/internal/oqc"
)

func TestPrintProjects(t *testing.T) {
	projects := []oqc.Project{
		{ID: "9", Name: "zeta"},
		{ID: "3", Name: "alpha"},
	}

	tests := []struct {
		name  string
		quiet bool
		want  string
	}{
		{name: "Default Output", quiet: false, want: "3\talpha\n9\tzeta\n"},
		{name: "Quiet Output", quiet: true, want: "alpha\nzeta\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			printProjects(buf, projects, tt.quiet)
			if buf.String() != tt.want {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}

	if projects[0].Name != "zeta" {
		t.Fatalf("printProjects must not reorder its input")
	}
}

func TestProjectsListCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("token") != "tok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"last":true,"content":[{"id":2,"projectName":"beta"},{"id":1,"projectName":"alpha"}]}}`))
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name       string
		env        map[string]string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "lists projects",
			env:        map[string]string{config.EnvToken: "tok", config.EnvBaseURL: srv.URL},
			wantCode:   0,
			wantStdout: "1\talpha\n2\tbeta\n",
		},
		{
			name:       "rejected token",
			env:        map[string]string{config.EnvToken: "nope", config.EnvBaseURL: srv.URL},
			wantCode:   1,
			wantStderr: "Error: Request not authorized, possible invalid API token",
		},
		{
			name:       "missing token",
			env:        map[string]string{config.EnvBaseURL: srv.URL},
			wantCode:   1,
			wantStderr: "  - " + config.EnvToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			projectsListCmd.SetOut(&stdout)
			projectsListCmd.SetErr(&stderr)
			t.Cleanup(func() {
				projectsListCmd.SetOut(nil)
				projectsListCmd.SetErr(nil)
			})

			code := runProjectsList(projectsListCmd, envMap(tt.env))
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d; stderr=%s", code, tt.wantCode, stderr.String())
			}
			if tt.wantStdout != "" && stdout.String() != tt.wantStdout {
				t.Fatalf("stdout = %q, want %q", stdout.String(), tt.wantStdout)
			}
			if tt.wantStderr != "" && !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Fatalf("stderr = %q, want it to contain %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}
