// Package ifaceutil resolves a local network interface from a
// configured bind string that may name the interface directly or give
// one of its IPv4 addresses.
package ifaceutil

import (
	"net"

	"github.com/pkg/errors"
)

// Resolve finds the local interface named by bind, or carrying bind as
// one of its addresses if bind parses as an IP.
func Resolve(bind string) (*net.Interface, error) {
	if bind == "" {
		return nil, errors.New("bind interface must not be empty")
	}

	if ip := net.ParseIP(bind); ip != nil {
		return ResolveByIP(ip)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate interfaces")
	}
	for _, it := range ifaces {
		if it.Name == bind {
			iface := it
			return &iface, nil
		}
	}

	return nil, errors.Errorf("no local interface named %q", bind)
}

// ResolveByIP finds the local interface carrying addr as one of its
// assigned addresses.
func ResolveByIP(addr net.IP) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate interfaces")
	}

	for _, it := range ifaces {
		addrs, err := it.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if ok && ipNet.IP.Equal(addr) {
				iface := it
				return &iface, nil
			}
		}
	}

	return nil, errors.Errorf("no local interface carries address %s", addr)
}
