// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import (
	"net"
	"strconv"
)

// IP protocol versions reported by Address.
const (
	IPv4 = 4
	IPv6 = 6
)

// Address is a socket address as seen by the host.
type Address struct {
	IP      string
	Version int
	Port    int
}

// NewAddress matches the address formatting capability signature.
func NewAddress(ip string, version, port int) any {
	return &Address{IP: ip, Version: version, Port: port}
}

// String renders host:port, bracketing IPv6 literals.
func (a *Address) String() string {
	if a == nil {
		return "<nil>"
	}
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}
