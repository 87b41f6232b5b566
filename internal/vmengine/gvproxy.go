package vmengine

import (
	"context"
	"log"
	"net"

	"github.com/containers/gvisor-tap-vsock/pkg/types"
	"github.com/containers/gvisor-tap-vsock/pkg/virtualnetwork"
)

// newVirtualNetwork builds the in-process userspace network gvproxy exposes
// to one VM: a single /24 subnet, a gateway at gatewayIP, and a static DHCP
// lease binding macAddress to the first host address past the gateway so
// the guest always gets the same address across restarts.
func newVirtualNetwork(subnet, gatewayIP, macAddress string) (*virtualnetwork.VirtualNetwork, error) {
	leaseIP, err := nextHostAddress(gatewayIP)
	if err != nil {
		return nil, err
	}

	cfg := &types.Configuration{
		Debug:             false,
		MTU:               1500,
		Subnet:            subnet,
		GatewayIP:         gatewayIP,
		GatewayMacAddress: "5a:94:ef:e4:0c:dd",
		DHCPStaticLeases: map[string]string{
			macAddress: leaseIP,
		},
		DNS:                    []types.Zone{},
		DNSSearchDomains:       nil,
		Forwards:               map[string]string{},
		NAT:                    map[string]string{},
		GatewayVirtualIPs:      []string{gatewayIP},
		VpnKitUUIDMacAddresses: map[string]string{},
		Protocol:               types.VfkitProtocol,
	}

	return virtualnetwork.New(cfg)
}

// acceptLoop bridges connections on ln (Cloud Hypervisor dialing in with its
// vfkit-protocol net device) into the virtual network's mux, one connection
// per VM boot. An accept error ends the loop without logging; a bridged
// connection that fails is logged and dropped rather than propagated,
// matching the teacher's background-goroutine error handling in its own
// worker supervision loops.
func acceptLoop(ctx context.Context, ln net.Listener, vn *virtualnetwork.VirtualNetwork) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			if err := vn.AcceptVfkit(conn); err != nil {
				log.Printf("vmengine: gvproxy connection closed: %v", err)
			}
		}()
	}
}
