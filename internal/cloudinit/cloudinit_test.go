package cloudinit

import (
	"strings"
	"testing"
)

func TestMetaDataDefaultsHostname(t *testing.T) {
	md := metaData(Config{})
	if !strings.Contains(md, "local-hostname: vm") {
		t.Fatalf("metaData = %q, want default hostname", md)
	}
}

func TestUserDataIncludesSSHKeyAndPackages(t *testing.T) {
	ud := userData(Config{
		Hostname:     "box",
		Username:     "aegis",
		SSHPublicKey: "ssh-ed25519 AAAA",
		Packages:     []string{"qemu-guest-agent"},
	})
	for _, want := range []string{"#cloud-config", "name: aegis", "ssh-ed25519 AAAA", "qemu-guest-agent"} {
		if !strings.Contains(ud, want) {
			t.Fatalf("userData missing %q:\n%s", want, ud)
		}
	}
}

func TestFindISOToolErrorsWhenNoneOnPath(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	if _, err := findISOTool(); err == nil {
		t.Fatal("expected error when no ISO tool is on PATH")
	}
}
