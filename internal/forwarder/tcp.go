package forwarder

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymesh/tproxyd/internal/action"
	"github.com/relaymesh/tproxyd/internal/config"
	"github.com/relaymesh/tproxyd/internal/helpers"
	"github.com/relaymesh/tproxyd/internal/sockopt"
)

// TCPForwarder owns the transparent TCP listener and the in-flight relay
// tasks that service it (§4.5). Unlike the UDP forwarder it has no
// semaphore: backpressure comes from the listen backlog alone.
type TCPForwarder struct {
	Logger   *slog.Logger
	Snapshot *config.AtomicSnapshot
	Bus      *action.Bus
	ListenIP net.IP

	mu           sync.Mutex
	ln           *net.TCPListener
	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

func (f *TCPForwarder) logger() *slog.Logger {
	if f.Logger == nil {
		return nopLogger()
	}
	return f.Logger
}

func (f *TCPForwarder) listenIP() net.IP {
	if f.ListenIP == nil {
		return config.ListenIP
	}
	return f.ListenIP
}

// Run mirrors UDPForwarder.Run; see its docs for the action-handling shape.
func (f *TCPForwarder) Run() error {
	snap := f.Snapshot.Load()
	if err := f.rebuild(snap.ListenPort); err != nil {
		return fmt.Errorf("tcp forwarder: initial bind: %w", err)
	}

	acceptDone := make(chan struct{})
	go func() {
		f.acceptLoop()
		close(acceptDone)
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
				return f.drain(acceptDone, false)
			case action.Kill, action.Panicked:
				return f.drain(acceptDone, true)
			}
		case <-acceptDone:
			return errors.New("tcp forwarder: listener closed unexpectedly")
		}
	}
}

func (f *TCPForwarder) onReload(act action.Action) {
	snap := f.Snapshot.Load()
	if !act.PortChanged {
		return
	}
	if err := f.rebuild(snap.ListenPort); err != nil {
		f.logger().Error("tcp forwarder: rebind failed, continuing on old listener", "err", err)
	}
}

func (f *TCPForwarder) rebuild(port uint16) error {
	ln, err := sockopt.MakeTransparentTCPListener(f.listenIP(), port)
	if err != nil {
		return err
	}

	f.mu.Lock()
	old := f.ln
	f.ln = ln
	f.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (f *TCPForwarder) currentListener() *net.TCPListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ln
}

func (f *TCPForwarder) acceptLoop() {
	for {
		ln := f.currentListener()
		if ln == nil {
			return
		}
		f.acceptFrom(ln)
		if f.shuttingDown.Load() {
			return
		}
	}
}

func (f *TCPForwarder) acceptFrom(ln *net.TCPListener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed (rebuild or shutdown) or a genuine accept
			// failure; either way this listener is done.
			return
		}

		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			_ = conn.Close()
			continue
		}

		f.wg.Add(1)
		go f.relay(tcpConn)
	}
}

// relay performs the single request/reply exchange of §4.5.
func (f *TCPForwarder) relay(conn *net.TCPConn) {
	defer f.wg.Done()
	defer conn.Close()

	origDst, err := sockopt.OriginalDestTCP(conn)
	if err != nil {
		f.logger().Warn("tcp forwarder: original destination lookup failed", "err", err)
		return
	}

	snap := f.Snapshot.Load()
	upstream, ok := snap.TCPMap.Lookup(helpers.ClampIntToUint16(origDst.Port))
	if !ok {
		f.logger().Warn(fmt.Sprintf("No upstream mapping provided for destination TCP port %d", origDst.Port))
		return
	}
	upAddr := net.JoinHostPort(upstream.IP.String(), strconv.Itoa(int(upstream.Port)))

	dialer := net.Dialer{Timeout: connTimeout}
	up, err := dialer.Dial("tcp4", upAddr)
	if err != nil {
		f.logger().Error("tcp forwarder: connect to upstream failed", "upstream", upAddr, "err", err)
		return
	}
	defer up.Close()

	buf := make([]byte, bufferSize)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		f.logger().Error("tcp forwarder: read from client failed", "err", err)
		return
	}

	if _, err := up.Write(buf[:n]); err != nil {
		f.logger().Error("tcp forwarder: write to upstream failed", "upstream", upAddr, "err", err)
		return
	}

	reply := make([]byte, bufferSize)
	_ = up.SetReadDeadline(time.Now().Add(connTimeout))
	rn, err := up.Read(reply)
	if err != nil && rn == 0 {
		f.logger().Error("tcp forwarder: read from upstream failed", "upstream", upAddr, "err", err)
		return
	}

	if _, err := conn.Write(reply[:rn]); err != nil {
		f.logger().Error("tcp forwarder: write to client failed", "err", err)
	}
}

func (f *TCPForwarder) drain(acceptDone <-chan struct{}, force bool) error {
	f.shuttingDown.Store(true)
	f.mu.Lock()
	ln := f.ln
	f.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	<-acceptDone

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
		f.logger().Warn("tcp forwarder: drain deadline exceeded, forcing exit")
	}
	return nil
}
