package forwarder

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymesh/tproxyd/internal/action"
	"github.com/relaymesh/tproxyd/internal/config"
	"github.com/relaymesh/tproxyd/internal/helpers"
	"github.com/relaymesh/tproxyd/internal/pool"
	"github.com/relaymesh/tproxyd/internal/sockopt"
)

// replyBufPool recycles the fixed-size buffers used to read the upstream's
// reply datagram, avoiding one bufferSize allocation per relayed packet.
var replyBufPool = pool.New(func() []byte { return make([]byte, bufferSize) })

// UDPForwarder owns the transparent UDP listen socket and the in-flight
// relay tasks that service it (§4.4). It is driven by Run, which returns
// when SHUTDOWN, STOP, KILL, or PANICKED drains or cancels it.
type UDPForwarder struct {
	Logger   *slog.Logger
	Snapshot *config.AtomicSnapshot
	Bus      *action.Bus
	ListenIP net.IP

	mu           sync.Mutex
	conn         *net.UDPConn
	sem          chan struct{}
	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

func (f *UDPForwarder) logger() *slog.Logger {
	if f.Logger == nil {
		return nopLogger()
	}
	return f.Logger
}

func (f *UDPForwarder) listenIP() net.IP {
	if f.ListenIP == nil {
		return config.ListenIP
	}
	return f.ListenIP
}

// Run starts the listen socket and services it until a terminal action is
// observed. A failure to create the *initial* listen socket is returned to
// the caller (propagated to the supervisor, per §7 error class 4).
func (f *UDPForwarder) Run() error {
	snap := f.Snapshot.Load()
	if err := f.rebuild(snap.ListenPort); err != nil {
		return fmt.Errorf("udp forwarder: initial bind: %w", err)
	}
	f.sem = make(chan struct{}, connBacklog)

	recvDone := make(chan struct{})
	go func() {
		f.recvLoop()
		close(recvDone)
	}()

	watch := f.Bus.Watch()
	for {
		select {
		case <-watch:
			act := f.Bus.Current()
			watch = f.Bus.Watch()
			switch act.Kind {
			case action.Reload:
				f.onReload(act)
			case action.Shutdown, action.Stop:
				return f.drain(recvDone, false)
			case action.Kill, action.Panicked:
				return f.drain(recvDone, true)
			}
		case <-recvDone:
			return errors.New("udp forwarder: listen socket closed unexpectedly")
		}
	}
}

func (f *UDPForwarder) onReload(act action.Action) {
	snap := f.Snapshot.Load()
	if !act.PortChanged {
		return
	}
	if err := f.rebuild(snap.ListenPort); err != nil {
		f.logger().Error("udp forwarder: rebind failed, continuing on old socket", "err", err)
	}
}

// rebuild creates a new listen socket on port and atomically swaps it in
// before closing the old one, so in-flight lookups never observe a gap
// (§3 invariant: "old socket dropped before new lookups are serviced").
func (f *UDPForwarder) rebuild(port uint16) error {
	conn, err := sockopt.MakeTransparentUDPListener(f.listenIP(), port)
	if err != nil {
		return err
	}

	f.mu.Lock()
	old := f.conn
	f.conn = conn
	f.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (f *UDPForwarder) currentConn() *net.UDPConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

// recvLoop drains whatever the current listen socket is until shutdown is
// requested; it re-fetches the (possibly rebuilt) socket after each error
// so a port-change reload never stops the receive path.
func (f *UDPForwarder) recvLoop() {
	buf := make([]byte, bufferSize)
	for {
		conn := f.currentConn()
		if conn == nil {
			return
		}
		f.recvFrom(conn, buf)
		if f.shuttingDown.Load() {
			return
		}
	}
}

func (f *UDPForwarder) recvFrom(conn *net.UDPConn, buf []byte) {
	for {
		n, src, origDst, err := sockopt.RecvOrigDst(conn, buf)
		switch {
		case errors.Is(err, sockopt.ErrSourceUnspecified):
			f.logger().Warn("udp forwarder: source unspecified, dropping packet")
			continue
		case errors.Is(err, sockopt.ErrOrigDstMissing):
			f.logger().Warn("udp forwarder: original destination missing, dropping packet", "src", src)
			continue
		case err != nil:
			// Socket closed (rebuild or shutdown), a recvmsg failure, or
			// an unparseable control message; recvLoop re-fetches the
			// current conn and resumes unless shutting down.
			return
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		select {
		case f.sem <- struct{}{}:
			f.wg.Add(1)
			go f.relay(src, origDst, payload)
		default:
			f.logger().Warn("udp forwarder is busy, dropping packets...")
		}
	}
}

// relay is the per-packet relay task of §4.4.
func (f *UDPForwarder) relay(src, origDst *net.UDPAddr, payload []byte) {
	defer func() {
		<-f.sem
		f.wg.Done()
	}()

	snap := f.Snapshot.Load()
	origPort := helpers.ClampIntToUint16(origDst.Port)
	upstream, ok := snap.UDPMap.Lookup(origPort)
	if !ok {
		f.logger().Warn(fmt.Sprintf("No upstream mapping provided for destination UDP port %d", origDst.Port))
		return
	}
	upAddr := &net.UDPAddr{IP: upstream.IP.Net(), Port: int(upstream.Port)}

	up, err := net.ListenUDP("udp4", nil)
	if err != nil {
		f.logger().Error("udp forwarder: ephemeral upstream socket", "err", err)
		return
	}
	defer up.Close()

	if _, err := up.WriteToUDP(payload, upAddr); err != nil {
		f.logger().Error("udp forwarder: send to upstream failed", "upstream", upAddr.String(), "err", err)
		return
	}

	reply := replyBufPool.Get()
	defer replyBufPool.Put(reply)
	_ = up.SetReadDeadline(time.Now().Add(connTimeout))
	n, _, err := up.ReadFromUDP(reply)
	if err != nil {
		f.logger().Error(fmt.Sprintf("Timed out while trying to receive UDP datagram from upstream %s:%d", upstream.IP, upstream.Port))
		return
	}

	replyConn, err := sockopt.MakeTransparentUDPReply(origDst.IP, origPort)
	if err != nil {
		f.logger().Error("udp forwarder: reply socket bind failed", "orig_dst", origDst.String(), "err", err)
		return
	}
	defer replyConn.Close()

	if _, err := replyConn.WriteToUDP(reply[:n], src); err != nil {
		f.logger().Error("udp forwarder: send reply to client failed", "client", src.String(), "err", err)
	}
}

// drain stops accepting new work and waits up to drainDuration for
// outstanding relay tasks, per §4.4 "Graceful drain". force (KILL or
// PANICKED) skips the wait entirely.
func (f *UDPForwarder) drain(recvDone <-chan struct{}, force bool) error {
	f.shuttingDown.Store(true)
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	<-recvDone

	if force {
		return nil
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainDuration):
		f.logger().Warn("udp forwarder: drain deadline exceeded, forcing exit")
	}
	return nil
}
