package utils

import (
	"net"
	"strings"
)

// vpnNameHints are interface name fragments of tunnels that usually break
// direct ICE paths.
var vpnNameHints = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or CGNAT
// and returns true, with the interface that triggered it, if media should
// go through TURN only.
func ShouldForceRelay() (bool, string) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false, ""
	}

	// Cloudflare WARP, Tailscale and carrier grade NATs live in 100.64.0.0/10.
	_, cgnatBlock, _ := net.ParseCIDR("100.64.0.0/10")

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		if hint := vpnHint(iface.Name); hint != "" {
			return true, iface.Name
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
				return true, iface.Name
			}
		}
	}

	return false, ""
}

func vpnHint(name string) string {
	name = strings.ToLower(name)
	for _, hint := range vpnNameHints {
		if strings.Contains(name, hint) {
			return hint
		}
	}
	return ""
}
