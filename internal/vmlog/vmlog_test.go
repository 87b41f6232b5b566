package vmlog

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if ParseLevel("bogus") != LevelInfo {
		t.Errorf("ParseLevel(bogus) = %v, want info", ParseLevel("bogus"))
	}
	if ParseLevel("") != LevelInfo {
		t.Errorf("ParseLevel(\"\") = %v, want info", ParseLevel(""))
	}
	if ParseLevel("trace") != LevelTrace {
		t.Errorf("ParseLevel(trace) = %v, want %v", ParseLevel("trace"), LevelTrace)
	}
}

func TestGetWritesLogLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vm.log")
	logger, err := Get(path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	logger.Info("hello", "key", "value")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("expected log file to contain data")
	}
}

func TestRotateProducesReadableGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vm.log")
	if err := os.WriteFile(path, []byte("line one\nline two\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Rotate(path); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected original path removed, stat err = %v", err)
	}

	matches, err := filepath.Glob(path + ".*.gz")
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected exactly one rotated file, got %v (err %v)", matches, err)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer gz.Close()
	b, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read gzip content: %v", err)
	}
	if string(b) != "line one\nline two\n" {
		t.Fatalf("rotated content = %q, want original", b)
	}
}

func TestRotateNoOpWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.log")
	if err := Rotate(path); err != nil {
		t.Fatalf("Rotate on missing file: %v", err)
	}
}
