package van

import (
	"fmt"
	"net"
)

// resolveIP implements the Bind-time IP resolution order from spec
// §4.5.1 step 2: an explicit override, a named interface, or an
// auto-selected default interface. It uses the standard library's net
// package rather than a third-party dependency -- see DESIGN.md:
// gopsutil's interface enumeration is the wrong tool for a
// single first-non-loopback-IPv4 lookup that net.Interfaces already
// does directly, and dragonboat/xsync/viper/cobra/pebble/crc16 have no
// bearing on network interface introspection.
func resolveIP(explicitIP, ifaceName string) (string, error) {
	if explicitIP != "" {
		return explicitIP, nil
	}
	if ifaceName != "" {
		return ipForInterface(ifaceName)
	}
	return autoSelectIP()
}

func ipForInterface(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("van: interface %q: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", fmt.Errorf("van: addrs for %q: %w", name, err)
	}
	for _, a := range addrs {
		if ip := ipv4Of(a); ip != "" {
			return ip, nil
		}
	}
	return "", fmt.Errorf("van: interface %q has no IPv4 address", name)
}

// autoSelectIP picks the first non-loopback, up interface carrying an
// IPv4 address.
func autoSelectIP() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("van: enumerate interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ip := ipv4Of(a); ip != "" {
				return ip, nil
			}
		}
	}
	return "", fmt.Errorf("van: failed to auto-select a network interface")
}

func ipv4Of(a net.Addr) string {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ""
}
