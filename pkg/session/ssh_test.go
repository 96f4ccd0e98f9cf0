package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/psantana5/machinist/pkg/models"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name string
		step models.SessionStep
		want string
	}{
		{
			name: "plain command",
			step: models.SessionStep{Name: "build", Command: "make"},
			want: "make",
		},
		{
			name: "with workdir",
			step: models.SessionStep{Name: "build", Command: "make", Workdir: "/srv/app"},
			want: "cd '/srv/app' && make",
		},
		{
			name: "with env and workdir",
			step: models.SessionStep{
				Name:    "test",
				Command: "make check",
				Workdir: "/srv/app",
				Env:     map[string]string{"CI": "1"},
			},
			want: "export CI='1' && cd '/srv/app' && make check",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildCommand(tt.step)
			if got != tt.want {
				t.Errorf("buildCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildCommand_EnvOrderIsStable(t *testing.T) {
	step := models.SessionStep{
		Name:    "env",
		Command: "true",
		Env:     map[string]string{"B": "2", "A": "1", "C": "3"},
	}
	got := buildCommand(step)
	want := "export A='1' && export B='2' && export C='3' && true"
	if got != want {
		t.Errorf("buildCommand() = %q, want %q", got, want)
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("plain"); got != "'plain'" {
		t.Errorf("shellQuote(plain) = %q", got)
	}
	if got := shellQuote("it's"); got != `'it'\''s'` {
		t.Errorf("shellQuote quoting broken: %q", got)
	}
}

func TestKnownHosts_RemoveHost(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "known_hosts")

	content := strings.Join([]string{
		"10.0.0.5 ssh-ed25519 AAAAC3Nza",
		"10.0.0.6,alias.example.com ssh-ed25519 AAAAC3Nzb",
		"[10.0.0.7]:2222 ssh-ed25519 AAAAC3Nzc",
		"# a comment",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to seed known_hosts: %v", err)
	}

	kh := &KnownHosts{Path: path}
	if err := kh.RemoveHost("10.0.0.5"); err != nil {
		t.Fatalf("RemoveHost failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read known_hosts: %v", err)
	}
	if strings.Contains(string(data), "10.0.0.5") {
		t.Error("Expected 10.0.0.5 entry removed")
	}
	if !strings.Contains(string(data), "10.0.0.6") {
		t.Error("Unrelated entry must survive")
	}
	if !strings.Contains(string(data), "# a comment") {
		t.Error("Comments must survive")
	}
}

func TestKnownHosts_RemoveHostIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "known_hosts")
	if err := os.WriteFile(path, []byte("10.0.0.5 ssh-ed25519 AAAAC3Nza\n"), 0o600); err != nil {
		t.Fatalf("Failed to seed known_hosts: %v", err)
	}

	kh := &KnownHosts{Path: path}
	if err := kh.RemoveHost("10.0.0.5"); err != nil {
		t.Fatalf("First RemoveHost failed: %v", err)
	}
	if err := kh.RemoveHost("10.0.0.5"); err != nil {
		t.Fatalf("Second RemoveHost must be a no-op, got: %v", err)
	}
}

func TestKnownHosts_MissingFileIsSuccess(t *testing.T) {
	kh := &KnownHosts{Path: filepath.Join(t.TempDir(), "nope")}
	if err := kh.RemoveHost("10.0.0.5"); err != nil {
		t.Errorf("Missing known_hosts must be success, got: %v", err)
	}
}
