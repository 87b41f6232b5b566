package vmstore

import (
	"os"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(dir)
}

func TestValidateName(t *testing.T) {
	valid := []string{"ubuntu", "web-1", "a", "My_VM2", RescueName}
	invalid := []string{"", "-bad", "_bad", "has space", "weird!char"}
	for _, s := range valid {
		if !ValidateName(s) {
			t.Errorf("ValidateName(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if ValidateName(s) {
			t.Errorf("ValidateName(%q) = true, want false", s)
		}
	}
}

func TestCreateVMRequiresAbsence(t *testing.T) {
	s := newTestStore(t)
	mac, _ := GenerateMACAddress()
	cfg := &VMConfiguration{Name: "ubuntu", CPUCount: 2, MemorySize: 4 << 30, DiskSize: 64 << 30, MACAddress: mac}
	if err := s.CreateVM(cfg); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := s.CreateVM(cfg); err == nil {
		t.Fatal("second create: expected VmAlreadyExists, got nil")
	}
}

func TestListVMsSortedAndFiltered(t *testing.T) {
	s := newTestStore(t)
	mac, _ := GenerateMACAddress()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		cfg := &VMConfiguration{Name: name, CPUCount: 1, MemorySize: 512 << 20, DiskSize: 1 << 30, MACAddress: mac}
		if err := s.CreateVM(cfg); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	// A directory with no config.json must not be listed.
	if err := os.MkdirAll(s.VMDir("not-a-vm"), 0o700); err != nil {
		t.Fatal(err)
	}

	names, err := s.ListVMs()
	if err != nil {
		t.Fatalf("ListVMs: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("ListVMs() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("ListVMs()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestDeleteVMRefusesWhileRunning(t *testing.T) {
	s := newTestStore(t)
	mac, _ := GenerateMACAddress()
	cfg := &VMConfiguration{Name: "ubuntu", CPUCount: 1, MemorySize: 512 << 20, DiskSize: 1 << 30, MACAddress: mac}
	if err := s.CreateVM(cfg); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRuntimeInfo("ubuntu", &VMRuntimeInfo{PID: int32(os.Getpid()), StartedAt: nowISO()}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteVM("ubuntu"); err == nil {
		t.Fatal("expected delete to fail while running")
	}

	// Simulate a dead PID: running detection deletes the stale file, then
	// delete succeeds.
	if err := s.SaveRuntimeInfo("ubuntu", &VMRuntimeInfo{PID: 999999999, StartedAt: nowISO()}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteVM("ubuntu"); err != nil {
		t.Fatalf("delete after process death: %v", err)
	}
	if _, err := os.Stat(s.VMDir("ubuntu")); !os.IsNotExist(err) {
		t.Fatalf("expected vm dir removed, stat err = %v", err)
	}
}

func TestGetRunningPIDPrunesStaleFile(t *testing.T) {
	s := newTestStore(t)
	mac, _ := GenerateMACAddress()
	cfg := &VMConfiguration{Name: "ubuntu", CPUCount: 1, MemorySize: 512 << 20, DiskSize: 1 << 30, MACAddress: mac}
	if err := s.CreateVM(cfg); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRuntimeInfo("ubuntu", &VMRuntimeInfo{PID: 999999999, StartedAt: nowISO()}); err != nil {
		t.Fatal(err)
	}

	pid, running, err := s.GetRunningPID("ubuntu")
	if err != nil {
		t.Fatal(err)
	}
	if running || pid != 0 {
		t.Fatalf("GetRunningPID() = (%d, %v), want (0, false)", pid, running)
	}
	if _, err := os.Stat(s.pidPath("ubuntu")); !os.IsNotExist(err) {
		t.Fatal("expected vm.pid to be deleted after stale check")
	}
}

func TestConfigRoundTripByteStable(t *testing.T) {
	s := newTestStore(t)
	mac, _ := GenerateMACAddress()
	cfg := &VMConfiguration{Name: "ubuntu", CPUCount: 2, MemorySize: 4 << 30, DiskSize: 64 << 30, MACAddress: mac, DiskImagePath: "disk.img"}
	if err := s.CreateVM(cfg); err != nil {
		t.Fatal(err)
	}

	b1, err := os.ReadFile(s.configPath("ubuntu"))
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := s.LoadConfiguration("ubuntu")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveConfiguration(loaded); err != nil {
		t.Fatal(err)
	}
	// modified_at changes, but re-encoding the same struct twice in a row
	// (without reloading) must be byte identical.
	if err := s.writeConfig(loaded); err != nil {
		t.Fatal(err)
	}
	b2, err := os.ReadFile(s.configPath("ubuntu"))
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := s.LoadConfiguration("ubuntu")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.writeConfig(reloaded); err != nil {
		t.Fatal(err)
	}
	b3, err := os.ReadFile(s.configPath("ubuntu"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b2) != string(b3) {
		t.Errorf("repeated encode of the same configuration is not byte-stable:\n%s\nvs\n%s", b2, b3)
	}
	_ = b1
}

func TestValidMACAddress(t *testing.T) {
	for i := 0; i < 20; i++ {
		mac, err := GenerateMACAddress()
		if err != nil {
			t.Fatal(err)
		}
		if !ValidMACAddress(mac) {
			t.Errorf("generated MAC %q failed validation", mac)
		}
	}
	if ValidMACAddress("ff:ff:ff:ff:ff:ff") {
		t.Error("broadcast MAC should not validate (bit 0x02 not set correctly / multicast bit set)")
	}
}
