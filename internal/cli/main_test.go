package cli

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/mensbeam/Fork/engine"
)

// TestMain routes re-executed copies of the test binary into the worker
// path so run commands can fork real workers during tests.
func TestMain(m *testing.M) {
	if engine.Main() {
		return
	}
	os.Exit(m.Run())
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fork workers require a unix platform")
	}
}

func requireSh(t *testing.T) {
	t.Helper()
	requireUnix(t)
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skipf("missing /bin/sh: %v", err)
	}
}

func writeManifestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fork.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}
