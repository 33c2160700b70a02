// Package mcast opens the IGMP join side-channel: some switches and
// hosts need an explicit multicast group join to forward traffic even
// though the actual data path is delivered straight into the NIC's
// receive queue and never touches this socket.
package mcast

import (
	"context"
	"net"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/frozenpine/mcdump/internal/nic"
)

// JoinSocket holds the side-channel socket joined to every configured
// endpoint's multicast group on the capture interface. Closing it
// leaves the group.
type JoinSocket struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
}

// Join opens the side-channel socket and issues a join_group on iface
// for every endpoint.
func Join(iface *net.Interface, endpoints []nic.Endpoint) (*JoinSocket, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			if err := c.Control(func(fd uintptr) {
				setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return setErr
		},
	}

	addr := net.JoinHostPort("", strconv.Itoa(int(endpoints[0].Port)))
	pconn, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return nil, errors.Wrap(err, "open join socket")
	}
	conn := pconn.(*net.UDPConn)

	pc := ipv4.NewPacketConn(conn)

	js := &JoinSocket{conn: conn, pc: pc}

	for _, ep := range endpoints {
		group := &net.UDPAddr{IP: ep.Group}
		if err := pc.JoinGroup(iface, group); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "join group %s", ep)
		}
	}

	return js, nil
}

// Close leaves every joined group and closes the socket.
func (js *JoinSocket) Close() error {
	return js.conn.Close()
}
