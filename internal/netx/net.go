// Package netx contains small networking helpers shared by the agent and
// the server.
package netx

import (
	"net"
)

// LocalIP returns the IPv4 address of the interface that would be used for
// outbound traffic. No packets are sent; the UDP "connection" only selects
// a route.
func LocalIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP, nil
}
