//go:build linux

// Package sockopt is the OS-interop boundary for everything that needs raw
// socket options and ancillary-data parsing: acquiring transparent sockets
// (IP_TRANSPARENT, IP_RECVORIGDSTADDR) and recovering the original
// destination a client addressed before TPROXY redirection, on both
// transports. Everything above this package works with plain net.UDPConn /
// net.TCPListener / net.TCPConn values.
package sockopt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// tcpListenBacklog is the fixed listen backlog for the transparent TCP
// listener (§6); backpressure on TCP comes from this backlog, not a
// semaphore (contrast with the UDP forwarder's CONN_BACKLOG).
const tcpListenBacklog = 100

// origDstOOBSize is sized generously for the single IP_RECVORIGDSTADDR
// control message we expect per datagram: a cmsghdr (16 bytes on a 64-bit
// kernel) plus a 16-byte sockaddr_in payload, rounded up with headroom.
const origDstOOBSize = 64

// ErrSourceUnspecified is returned by RecvOrigDst when the datagram's
// source address is missing or unspecified (§3 invariant: forward only if
// the source is specified).
var ErrSourceUnspecified = errors.New("sockopt: source address unspecified")

// ErrOrigDstMissing is returned by RecvOrigDst when the kernel did not
// attach an original-destination control message to the datagram.
var ErrOrigDstMissing = errors.New("sockopt: original destination control message absent")

// MakeTransparentUDPListener creates the transparent UDP listen socket of
// §6: bound to (ip, port) with SO_REUSEADDR, SO_REUSEPORT, IP_TRANSPARENT,
// and IP_RECVORIGDSTADDR all enabled.
func MakeTransparentUDPListener(ip net.IP, port uint16) (*net.UDPConn, error) {
	return listenTransparentUDP(ip, port, setListenUDPSockopts)
}

// MakeTransparentUDPReply creates the short-lived, per-packet reply socket
// of §4.4 step 4: same options as the listen socket, bound to the original
// destination so the reply's source address is the one the client
// originally addressed.
func MakeTransparentUDPReply(ip net.IP, port uint16) (*net.UDPConn, error) {
	return listenTransparentUDP(ip, port, setListenUDPSockopts)
}

func listenTransparentUDP(ip net.IP, port uint16, apply func(fd int) error) (*net.UDPConn, error) {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))

	var sockErr error
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			ctrlErr := c.Control(func(fd uintptr) {
				sockErr = apply(int(fd))
			})
			if ctrlErr != nil {
				return ctrlErr
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

func setListenUDPSockopts(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("sockopt: set SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("sockopt: set SO_REUSEPORT: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_TRANSPARENT, 1); err != nil {
		return fmt.Errorf("sockopt: set IP_TRANSPARENT: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_RECVORIGDSTADDR, 1); err != nil {
		return fmt.Errorf("sockopt: set IP_RECVORIGDSTADDR: %w", err)
	}
	return nil
}

// RecvOrigDst performs one non-blocking-from-the-caller's-perspective
// receive (the Go runtime's netpoller parks the goroutine, it never spins)
// into buf, returning the payload length, the datagram's source address,
// and the original destination recovered from ancillary data. Per §4.4, a
// datagram is dropped (non-nil sentinel error, nil origDst) if the source
// is unspecified or the control message is absent; any other error is
// either a recvmsg failure (e.g. the socket was closed for a rebuild) or a
// control message that could not be parsed.
func RecvOrigDst(conn *net.UDPConn, buf []byte) (n int, src *net.UDPAddr, origDst *net.UDPAddr, err error) {
	oob := make([]byte, origDstOOBSize)
	n, oobn, _, srcAddr, err := conn.ReadMsgUDP(buf, oob)
	if err != nil {
		return 0, nil, nil, err
	}
	if srcAddr == nil || srcAddr.IP.IsUnspecified() {
		return n, srcAddr, nil, ErrSourceUnspecified
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return n, srcAddr, nil, fmt.Errorf("sockopt: parse control message: %w", err)
	}

	for _, m := range msgs {
		// The kernel reuses the IP_RECVORIGDSTADDR sockopt value as the
		// cmsg_type of the ancillary message it attaches (linux/in.h
		// defines IP_RECVORIGDSTADDR and IP_ORIGDSTADDR as the same 20).
		if m.Header.Level == unix.SOL_IP && m.Header.Type == unix.IP_RECVORIGDSTADDR {
			ip, port, perr := parseSockaddrIn(m.Data)
			if perr != nil {
				return n, srcAddr, nil, perr
			}
			return n, srcAddr, &net.UDPAddr{IP: ip, Port: int(port)}, nil
		}
	}
	return n, srcAddr, nil, ErrOrigDstMissing
}

// parseSockaddrIn decodes the struct sockaddr_in payload of an
// IP_RECVORIGDSTADDR control message:
//
//	sin_family (2 bytes, native order)
//	sin_port   (2 bytes, network/big-endian order)
//	sin_addr   (4 bytes)
//	sin_zero   (8 bytes padding, ignored)
func parseSockaddrIn(data []byte) (net.IP, uint16, error) {
	const sockaddrInSize = 16
	if len(data) < sockaddrInSize {
		return nil, 0, fmt.Errorf("sockopt: original destination control message too small (%d bytes)", len(data))
	}
	family := binary.LittleEndian.Uint16(data[0:2])
	if family != unix.AF_INET {
		return nil, 0, fmt.Errorf("sockopt: unexpected address family %d in original destination", family)
	}
	port := binary.BigEndian.Uint16(data[2:4])
	ip := net.IPv4(data[4], data[5], data[6], data[7])
	return ip, port, nil
}

// MakeTransparentTCPListener creates the transparent TCP listener of §6:
// IP_TRANSPARENT enabled, non-blocking, listen backlog 100. The backlog is
// only reachable via a raw socket (net.ListenTCP has no backlog knob), so
// this builds the fd by hand and hands it to net.FileListener — the
// standard Go idiom for wrapping an already-configured fd in a *net.TCPListener.
func MakeTransparentTCPListener(ip net.IP, port uint16) (*net.TCPListener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("sockopt: socket: %w", err)
	}
	closeFD := true
	defer func() {
		if closeFD {
			_ = unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("sockopt: set SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_TRANSPARENT, 1); err != nil {
		return nil, fmt.Errorf("sockopt: set IP_TRANSPARENT: %w", err)
	}

	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("sockopt: listen address %s is not IPv4", ip)
	}
	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], v4)

	if err := unix.Bind(fd, sa); err != nil {
		return nil, fmt.Errorf("sockopt: bind: %w", err)
	}
	if err := unix.Listen(fd, tcpListenBacklog); err != nil {
		return nil, fmt.Errorf("sockopt: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("sockopt: set non-blocking: %w", err)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("tproxy-tcp-%d", port))
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("sockopt: FileListener: %w", err)
	}
	closeFD = false // ownership transferred to f / ln (FileListener dups the fd)
	return ln.(*net.TCPListener), nil
}

// soOriginalDst is SOL_IP's SO_ORIGINAL_DST option (linux/netfilter_ipv4.h).
// golang.org/x/sys/unix does not export a named constant for it.
const soOriginalDst = 80

// OriginalDestTCP retrieves the original destination of an accepted
// transparent TCP connection via the kernel-side SO_ORIGINAL_DST lookup
// (§4.5 "retrieve the original destination via the connected socket's
// kernel-side SO_ORIGINAL_DST-equivalent lookup").
func OriginalDestTCP(conn *net.TCPConn) (*net.TCPAddr, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("sockopt: SyscallConn: %w", err)
	}

	var sa unix.RawSockaddrInet4
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sa, sockErr = getOriginalDst(int(fd))
	})
	if ctrlErr != nil {
		return nil, fmt.Errorf("sockopt: raw control: %w", ctrlErr)
	}
	if sockErr != nil {
		return nil, sockErr
	}

	ip := net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3])
	port := binary.BigEndian.Uint16((*[2]byte)(unsafe.Pointer(&sa.Port))[:])
	return &net.TCPAddr{IP: ip, Port: int(port)}, nil
}

func getOriginalDst(fd int) (unix.RawSockaddrInet4, error) {
	var sa unix.RawSockaddrInet4
	size := uint32(unsafe.Sizeof(sa))
	_, _, errno := unix.Syscall6(
		unix.SYS_GETSOCKOPT,
		uintptr(fd),
		uintptr(unix.SOL_IP),
		uintptr(soOriginalDst),
		uintptr(unsafe.Pointer(&sa)),
		uintptr(unsafe.Pointer(&size)),
		0,
	)
	if errno != 0 {
		return unix.RawSockaddrInet4{}, fmt.Errorf("sockopt: getsockopt SO_ORIGINAL_DST: %w", errno)
	}
	return sa, nil
}
