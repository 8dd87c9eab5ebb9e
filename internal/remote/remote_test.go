package remote

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseTarget(t *testing.T) {
	cases := []struct {
		in   string
		want Target
	}{
		{"bench@example.org:/srv/runs/1.csv", Target{User: "bench", Host: "example.org:22", Path: "/srv/runs/1.csv"}},
		{"example.org:2222:runs/1.json", Target{Host: "example.org:2222", Path: "runs/1.json"}},
		{"u@h:c:/odd:path", Target{User: "u", Host: "h:22", Path: "c:/odd:path"}},
	}
	for _, c := range cases {
		got, err := ParseTarget(c.in)
		if err != nil {
			t.Fatalf("parse %q: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("parse %q: expected %+v, got %+v", c.in, c.want, got)
		}
	}
}

func TestParseTargetErrors(t *testing.T) {
	for _, in := range []string{"", "host", ":/path", "host:", "host:22:"} {
		if _, err := ParseTarget(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestTargetString(t *testing.T) {
	tg := Target{User: "u", Host: "h:22", Path: "/p"}
	if tg.String() != "u@h:22:/p" {
		t.Fatalf("unexpected %q", tg.String())
	}
}

func TestUploadRequiresCredentials(t *testing.T) {
	local := filepath.Join(t.TempDir(), "run.csv")
	if err := os.WriteFile(local, []byte("timestamp\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	target := Target{Host: "127.0.0.1:1", Path: "/tmp/run.csv"}

	err := Upload(context.Background(), local, target, Options{KeyPath: "key"})
	if err == nil || !strings.Contains(err.Error(), "user") {
		t.Fatalf("expected missing user error, got %v", err)
	}
	err = Upload(context.Background(), local, target, Options{User: "u"})
	if err == nil || !strings.Contains(err.Error(), "key path") {
		t.Fatalf("expected missing key error, got %v", err)
	}
	err = Upload(context.Background(), filepath.Join(t.TempDir(), "missing"), target, Options{User: "u"})
	if err == nil || !strings.Contains(err.Error(), "open local file") {
		t.Fatalf("expected local file error, got %v", err)
	}
}
