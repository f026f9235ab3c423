package transport

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// globalBroadcast is used when no interface yields a subnet broadcast address.
func globalBroadcast() net.IP {
	return net.IPv4(255, 255, 255, 255).To4()
}

// Interface is the part of a network interface the transport looks at.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

// InterfaceLister enumerates network interfaces.
type InterfaceLister func() ([]Interface, error)

// SystemInterfaces lists the host's interfaces. Interfaces whose addresses
// cannot be read are returned without addresses.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("error getting interfaces: %w", err)
	}
	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}
		out = append(out, Interface{Name: iface.Name, Flags: iface.Flags, Addrs: addrs})
	}
	return out, nil
}

// ipv4Nets returns the IPv4 networks of every up, non-loopback interface.
func ipv4Nets(list InterfaceLister) []net.IPNet {
	if list == nil {
		return nil
	}
	ifaces, err := list()
	if err != nil {
		return nil
	}
	var out []net.IPNet
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		for _, addr := range iface.Addrs {
			var ipnet *net.IPNet
			switch v := addr.(type) {
			case *net.IPNet:
				ipnet = v
			case *net.IPAddr:
				ipnet = &net.IPNet{IP: v.IP, Mask: v.IP.DefaultMask()}
			}
			if ipnet == nil || ipnet.IP.To4() == nil {
				continue
			}
			mask := ipnet.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}
			if len(mask) != net.IPv4len {
				continue
			}
			out = append(out, net.IPNet{IP: ipnet.IP.To4(), Mask: mask})
		}
	}
	return out
}

// GatherBroadcastAddrs computes the subnet broadcast address of every up,
// non-loopback IPv4 interface. The result is never empty: with nothing
// usable it is exactly {255.255.255.255}.
func GatherBroadcastAddrs(list InterfaceLister) []net.IP {
	seen := map[string]bool{}
	var out []net.IP
	for _, n := range ipv4Nets(list) {
		bcast := make(net.IP, net.IPv4len)
		for i := 0; i < net.IPv4len; i++ {
			bcast[i] = n.IP[i] | ^n.Mask[i]
		}
		if key := bcast.String(); !seen[key] {
			seen[key] = true
			out = append(out, bcast)
		}
	}
	if len(out) == 0 {
		return []net.IP{globalBroadcast()}
	}
	return out
}

// Fingerprint summarises the usable IPv4 networks so that changes to the
// network path can be detected by comparison.
func Fingerprint(list InterfaceLister) string {
	nets := ipv4Nets(list)
	keys := make([]string, 0, len(nets))
	for _, n := range nets {
		keys = append(keys, n.String())
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
