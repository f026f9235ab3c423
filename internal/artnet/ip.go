package artnet

import (
	"fmt"
	"net"
)

// FindArtNetIP finds the IPv4 address of a local interface inside cidr.
func FindArtNetIP(cidr string) (net.IP, error) {
	address, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error getting ips: %w", err)
	}
	return matchIP(address, cidr)
}

func matchIP(address []net.Addr, cidr string) (net.IP, error) {
	_, cidrNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("art-net range %q: %w", cidr, err)
	}
	for _, addr := range address {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil {
			continue
		}
		if cidrNet.Contains(ip) {
			return ip, nil
		}
	}
	return nil, nil
}
