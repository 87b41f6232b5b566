package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/aegisorg/vm/internal/config"
	"github.com/aegisorg/vm/internal/vmstore"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		HomeDir:           dir,
		RescueCacheDir:    dir + "/.cache/rescue",
		DefaultMemoryMB:   2048,
		DefaultVCPUs:      1,
		DefaultDiskSizeGB: 20,
	}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	return &App{
		Config: cfg,
		Store:  vmstore.New(cfg.HomeDir),
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// captureStdout redirects os.Stdout for the duration of fn and returns
// what was written. Command bodies print with fmt.Print*, so tests observe
// behavior the way a real CLI invocation's output would look.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestCmdCreateThenList(t *testing.T) {
	app := newTestApp(t)

	out := captureStdout(t, func() {
		if err := app.cmdCreate([]string{"ubuntu", "--cpus", "1", "--memory", "2G", "--disk-size", "8G"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	})
	if out == "" {
		t.Fatal("create: expected confirmation output")
	}

	names, err := app.Store.ListVMs()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 || names[0] != "ubuntu" {
		t.Fatalf("ListVMs = %v, want [ubuntu]", names)
	}

	diskPath := app.Store.DiskPath("ubuntu", "disk.img")
	st, err := os.Stat(diskPath)
	if err != nil {
		t.Fatalf("stat disk: %v", err)
	}
	if st.Size() != 8<<30 {
		t.Fatalf("disk size = %d, want %d", st.Size(), int64(8)<<30)
	}
}

func TestCmdListJSONExcludesRescue(t *testing.T) {
	app := newTestApp(t)
	if err := app.cmdCreate([]string{"ubuntu", "--disk-size", "2G"}); err != nil {
		t.Fatalf("create ubuntu: %v", err)
	}
	rescueDir := app.Store.VMDir(vmstore.RescueName)
	if err := os.MkdirAll(rescueDir, 0o700); err != nil {
		t.Fatalf("mkdir rescue vm: %v", err)
	}
	if err := os.WriteFile(rescueDir+"/config.json", []byte("{}"), 0o600); err != nil {
		t.Fatalf("write rescue config: %v", err)
	}

	var buf bytes.Buffer
	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	if err := app.cmdList([]string{"--format", "json"}); err != nil {
		t.Fatalf("list: %v", err)
	}
	w.Close()
	os.Stdout = orig
	io.Copy(&buf, r)

	var summaries []vmSummary
	if err := json.Unmarshal(buf.Bytes(), &summaries); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, buf.String())
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	if summaries[0].Status != "stopped" {
		t.Fatalf("status = %q, want stopped", summaries[0].Status)
	}
}

func TestCmdDeleteRefusesWhileRunningWithoutForce(t *testing.T) {
	app := newTestApp(t)
	if err := app.cmdCreate([]string{"ubuntu", "--disk-size", "2G"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := app.Store.SaveRuntimeInfo("ubuntu", &vmstore.VMRuntimeInfo{PID: int32(os.Getpid())}); err != nil {
		t.Fatalf("save runtime info: %v", err)
	}

	if err := app.cmdDelete([]string{"ubuntu"}); err == nil {
		t.Fatal("delete while running: expected error, got nil")
	}

	// Stale/dead PID: GetRunningPID should self-heal and allow deletion.
	if err := app.Store.SaveRuntimeInfo("ubuntu", &vmstore.VMRuntimeInfo{PID: 999999}); err != nil {
		t.Fatalf("save runtime info: %v", err)
	}
	if err := app.cmdDelete([]string{"ubuntu"}); err != nil {
		t.Fatalf("delete after stale pid: %v", err)
	}
}

func TestCmdResizeRefusesShrink(t *testing.T) {
	app := newTestApp(t)
	if err := app.cmdCreate([]string{"ubuntu", "--disk-size", "64G"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := app.cmdResize([]string{"ubuntu", "--size", "32G"}); err == nil {
		t.Fatal("shrink: expected error, got nil")
	}
	if err := app.cmdResize([]string{"ubuntu", "--size", "128G"}); err != nil {
		t.Fatalf("grow: %v", err)
	}
	cfg, err := app.Store.LoadConfiguration("ubuntu")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiskSize != 128<<30 {
		t.Fatalf("disk_size = %d, want %d", cfg.DiskSize, int64(128)<<30)
	}
}

func TestCmdIPNoNetworkInfoYet(t *testing.T) {
	app := newTestApp(t)
	if err := app.cmdCreate([]string{"ubuntu", "--disk-size", "2G"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := app.cmdIP([]string{"ubuntu"}); err == nil {
		t.Fatal("ip with no network info: expected error, got nil")
	}
}
