package discovery

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// linkLocalMulticastGroup is the DoIP discovery multicast group, ISO
// 13400-2 §7.2.
var linkLocalMulticastGroup = net.IPv4(224, 0, 0, 1)

// joinMulticastGroup issues IP_ADD_MEMBERSHIP on the socket's raw file
// descriptor, the same raw-socket-option pattern the teacher applies to its
// CAN file descriptor via golang.org/x/sys/unix (bus_manager.go).
func joinMulticastGroup(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("discovery: obtaining raw conn: %w", err)
	}

	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], linkLocalMulticastGroup.To4())
	copy(mreq.Interface[:], net.IPv4zero.To4())

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptIPMreq(int(fd), unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
	})
	if err != nil {
		return err
	}
	return sockErr
}
