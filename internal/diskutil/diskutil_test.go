package diskutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateSparseRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")
	if err := CreateSparse(path, 1<<20); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := CreateSparse(path, 1<<20); err == nil {
		t.Fatal("second create: expected error, got nil")
	}
}

func TestCreateSparseSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")
	const want = int64(64) << 20
	if err := CreateSparse(path, want); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := Size(path)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if got != want {
		t.Fatalf("size = %d, want %d", got, want)
	}
}

func TestResizeGrowRefusesShrink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")
	if err := CreateSparse(path, 64<<20); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ResizeGrow(path, 64<<20, 32<<20); err == nil {
		t.Fatal("shrink: expected error, got nil")
	}
	if err := ResizeGrow(path, 64<<20, 128<<20); err != nil {
		t.Fatalf("grow: %v", err)
	}
	got, err := Size(path)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if got != 128<<20 {
		t.Fatalf("size after grow = %d, want %d", got, 128<<20)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.img")
	if err := os.WriteFile(src, []byte("hello disk"), 0o600); err != nil {
		t.Fatalf("write src: %v", err)
	}
	dst := filepath.Join(dir, "dst.img")
	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("copy: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(got) != "hello disk" {
		t.Fatalf("dst content = %q, want %q", got, "hello disk")
	}
}

func TestSymlink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.img")
	if err := os.WriteFile(src, []byte("x"), 0o600); err != nil {
		t.Fatalf("write src: %v", err)
	}
	dst := filepath.Join(dir, "link.img")
	if err := Symlink(src, dst); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	target, err := os.Readlink(dst)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != src {
		t.Fatalf("link target = %q, want %q", target, src)
	}
}
