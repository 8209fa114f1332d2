package firmware

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeImage(t *testing.T, dir, board, name string) string {
	t.Helper()
	p := filepath.Join(dir, board, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(":00000001FF\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDirSelector(t *testing.T) {
	dir := t.TempDir()
	want := writeImage(t, dir, "uno", "base_node-1.0.hex")
	writeImage(t, dir, "uno", "base_node-0.9.hex")
	writeImage(t, dir, "mega2560", "base_node-1.0.hex")

	got, err := DirSelector(dir, "1.0")("uno")
	if err != nil {
		t.Fatalf("selector failed: %v", err)
	}
	if got != want {
		t.Fatalf("selector = %s, want %s", got, want)
	}

	_, err = DirSelector(dir, "2.0")("uno")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	if _, err := DirSelector("", "1.0")("uno"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for unset dir, got %v", err)
	}
}

func TestAvrdudeUpload(t *testing.T) {
	var gotName string
	var gotArgs []string
	a := NewAvrdude(
		WithBinary("/opt/avrdude"),
		WithConfFile("/opt/avrdude.conf"),
		WithRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotName = name
			gotArgs = args
			return []byte("avrdude done.  Thank you."), nil
		}),
	)

	sel := func(board string) (string, error) { return "/fw/" + board + ".hex", nil }
	if err := a.Upload(context.Background(), "uno", sel, "/dev/ttyACM0"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if gotName != "/opt/avrdude" {
		t.Fatalf("binary = %s", gotName)
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"-C /opt/avrdude.conf", "-p atmega328p", "-c arduino", "-P /dev/ttyACM0", "-b 115200", "flash:w:/fw/uno.hex:i"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestAvrdudeFailures(t *testing.T) {
	boom := errors.New("exit status 1")
	a := NewAvrdude(WithRunner(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("programmer is not responding"), boom
	}))
	sel := func(string) (string, error) { return "x.hex", nil }

	err := a.Upload(context.Background(), "uno", sel, "COM3")
	var ue *UploadError
	if !errors.As(err, &ue) || !errors.Is(err, boom) {
		t.Fatalf("expected UploadError wrapping runner error, got %v", err)
	}
	if ue.Output != "programmer is not responding" {
		t.Fatalf("unexpected output %q", ue.Output)
	}

	if err := a.Upload(context.Background(), "esp32", sel, "COM3"); err == nil {
		t.Fatalf("expected error for unknown board")
	}

	selErr := errors.New("no image")
	err = a.Upload(context.Background(), "uno", func(string) (string, error) { return "", selErr }, "COM3")
	if !errors.Is(err, selErr) {
		t.Fatalf("expected selector error, got %v", err)
	}
}
