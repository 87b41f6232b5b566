package cli

import "testing"

func TestScanArgsValueAndBoolFlags(t *testing.T) {
	s, err := scanArgs([]string{"ubuntu", "--cpus", "4", "--interactive", "--memory", "4G"},
		map[string]bool{"cpus": true, "memory": true})
	if err != nil {
		t.Fatalf("scanArgs: %v", err)
	}
	pos := s.Positionals()
	if len(pos) != 1 || pos[0] != "ubuntu" {
		t.Fatalf("positionals = %v, want [ubuntu]", pos)
	}
	if got := s.String("cpus", ""); got != "4" {
		t.Fatalf("cpus = %q, want 4", got)
	}
	if got := s.String("memory", ""); got != "4G" {
		t.Fatalf("memory = %q, want 4G", got)
	}
	if !s.Bool("interactive") {
		t.Fatal("interactive = false, want true")
	}
	if n, err := s.Int("cpus", 0); err != nil || n != 4 {
		t.Fatalf("Int(cpus) = %d, %v, want 4, nil", n, err)
	}
}

func TestScanArgsMissingValueErrors(t *testing.T) {
	_, err := scanArgs([]string{"--cpus"}, map[string]bool{"cpus": true})
	if err == nil {
		t.Fatal("expected error for dangling value flag, got nil")
	}
}

func TestScanArgsDefaults(t *testing.T) {
	s, err := scanArgs([]string{"web"}, map[string]bool{"cpus": true})
	if err != nil {
		t.Fatalf("scanArgs: %v", err)
	}
	if got := s.String("cpus", "2"); got != "2" {
		t.Fatalf("default cpus = %q, want 2", got)
	}
	if s.Bool("force") {
		t.Fatal("force = true, want false")
	}
}
