package vmengine

import (
	"fmt"
	"net"
)

// nextHostAddress returns the address immediately following gatewayIP
// within its /24, used as the guest's static DHCP lease under gvproxy.
func nextHostAddress(gatewayIP string) (string, error) {
	ip := net.ParseIP(gatewayIP).To4()
	if ip == nil {
		return "", fmt.Errorf("not an IPv4 address: %s", gatewayIP)
	}
	next := make(net.IP, len(ip))
	copy(next, ip)
	next[3]++
	return next.String(), nil
}
