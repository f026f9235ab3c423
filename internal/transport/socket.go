package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenUDP binds a broadcast capable IPv4 socket. SO_REUSEPORT lets a new
// socket take the port while the previous one is still open.
func listenUDP(ctx context.Context, ip net.IP, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				for _, opt := range []int{unix.SO_BROADCAST, unix.SO_REUSEADDR, unix.SO_REUSEPORT} {
					if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1); sockErr != nil {
						return
					}
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	if ip == nil {
		ip = net.IPv4zero
	}
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp port %d: %w", port, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet conn %T", pc)
	}
	return conn, nil
}

// isHostUnreachable reports whether a send failed because the destination
// cannot be reached right now.
func isHostUnreachable(err error) bool {
	return errors.Is(err, unix.EHOSTUNREACH)
}
