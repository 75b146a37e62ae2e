package netutil

import (
	"net"
	"strings"
)

// vpnInterfacePrefixes names virtual adapters that usually mean direct P2P
// will fail and a TURN relay is required anyway.
var vpnInterfacePrefixes = []string{"tun", "tap", "wg", "ppp", "warp"}

// BehindRestrictiveNAT reports whether the host is likely behind a VPN or
// carrier-grade NAT, in which case forcing TURN usage saves a doomed
// direct-connection attempt.
func BehindRestrictiveNAT() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	// 100.64.0.0/10 is the CGNAT range; Cloudflare WARP and Tailscale
	// assign out of it too.
	_, cgnatBlock, _ := net.ParseCIDR("100.64.0.0/10")

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, prefix := range vpnInterfacePrefixes {
			if strings.Contains(name, prefix) {
				return true
			}
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if cgnatBlock.Contains(ip) {
				return true
			}
		}
	}

	return false
}
