package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppConfigDefaults(t *testing.T) {
	c := NewAppConfig(NewMemory(nil), "base-node")

	if _, ok := c.LastKnownPort(); ok {
		t.Fatalf("expected no last known port")
	}
	if got := c.StepTimeout(); got != 750*time.Millisecond {
		t.Fatalf("StepTimeout() = %v, want 750ms", got)
	}
	if got := c.BoardID(); got != "uno" {
		t.Fatalf("BoardID() = %q, want uno", got)
	}
	if got := c.StepMode(); got != StepModeDevice {
		t.Fatalf("StepMode() = %q, want %q", got, StepModeDevice)
	}
	if got := c.PollInterval(); got != 10*time.Millisecond {
		t.Fatalf("PollInterval() = %v, want 10ms", got)
	}
}

func TestAppConfigInvalidTimeoutFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{name: "zero", value: 0, want: 750 * time.Millisecond},
		{name: "negative", value: -5.0, want: 750 * time.Millisecond},
		{name: "garbage", value: "abc", want: 750 * time.Millisecond},
		{name: "json number", value: 1200.0, want: 1200 * time.Millisecond},
		{name: "string number", value: "300", want: 300 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemory(RawFileConfig{"p": {KeyStepTimeoutMS: tt.value}})
			if got := NewAppConfig(store, "p").StepTimeout(); got != tt.want {
				t.Errorf("StepTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppConfigSetLastKnownPort(t *testing.T) {
	store := NewMemory(nil)
	c := NewAppConfig(store, "p")

	if err := c.SetLastKnownPort("COM1"); err != nil {
		t.Fatalf("SetLastKnownPort failed: %v", err)
	}
	if port, ok := c.LastKnownPort(); !ok || port != "COM1" {
		t.Fatalf("LastKnownPort() = %q, %t", port, ok)
	}

	// Another writer changes the shared store; the view must see it.
	if err := store.Set("p", map[string]any{KeyLastKnownPort: "COM7"}); err != nil {
		t.Fatal(err)
	}
	if port, _ := c.LastKnownPort(); port != "COM7" {
		t.Fatalf("expected COM7 after external write, got %q", port)
	}

	if err := c.SetLastKnownPort(""); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.LastKnownPort(); ok {
		t.Fatalf("expected port to be cleared")
	}
}

func TestFileRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nodectl.json")

	f, err := NewFile(p)
	if err != nil {
		t.Fatalf("NewFile on missing file: %v", err)
	}
	c := NewAppConfig(f, "base-node")
	if err := c.SetStepTimeout(900 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := c.SetLastKnownPort("/dev/ttyACM0"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewFile(p)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	c2 := NewAppConfig(reloaded, "base-node")
	if got := c2.StepTimeout(); got != 900*time.Millisecond {
		t.Fatalf("StepTimeout() after reload = %v", got)
	}
	if port, _ := c2.LastKnownPort(); port != "/dev/ttyACM0" {
		t.Fatalf("LastKnownPort() after reload = %q", port)
	}
}

func TestFileEmpty(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(p, []byte("  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := NewFile(p)
	if err != nil {
		t.Fatalf("NewFile on empty file: %v", err)
	}
	values, err := f.Get("anything")
	if err != nil || len(values) != 0 {
		t.Fatalf("expected empty section, got %v, %v", values, err)
	}
}

func TestFileInvalidJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(p, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(p); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}
