package cli

import "github.com/aegisorg/vm/internal/sock"

// probeConnect reports whether a client can currently connect to path,
// closing the probe connection immediately. Used before an interactive
// attach to distinguish "VM may still be starting up" from a genuine
// connection failure (spec §7 "Stale rendezvous").
func probeConnect(path string) bool {
	conn, err := sock.Connect(path)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
