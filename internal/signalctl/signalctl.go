// Package signalctl translates POSIX signals into Action Bus events and
// owns the SIGHUP reload path (§4.3).
package signalctl

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/relaymesh/tproxyd/internal/action"
	"github.com/relaymesh/tproxyd/internal/config"
	"github.com/relaymesh/tproxyd/internal/sdnotify"
)

// Handler subscribes to SIGINT/SIGTERM/SIGQUIT/SIGHUP and publishes the
// corresponding Action, per the table in §4.3. It also watches the Action
// Bus itself so it can exit cleanly when the Supervisor issues STOP or
// PANICKED.
type Handler struct {
	Logger     *slog.Logger
	Bus        *action.Bus
	Snapshot   *config.AtomicSnapshot
	ConfigPath string
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return h.Logger
}

// Run subscribes to signals and services them until a terminal Action is
// observed on the Bus. Lifecycle coordination flows entirely through the
// Action Bus, not a context, matching how the forwarders are driven.
func (h *Handler) Run() error {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watch := h.Bus.Watch()
	for {
		select {
		case <-watch:
			act := h.Bus.Current()
			watch = h.Bus.Watch()
			if act.Kind == action.Stop || act.Kind == action.Panicked {
				return nil
			}

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				h.Bus.Set(action.Action{Kind: action.Shutdown})
				return nil
			case syscall.SIGQUIT:
				h.Bus.Set(action.Action{Kind: action.Kill})
				return nil
			case syscall.SIGHUP:
				h.handleReload()
			}
		}
	}
}

// handleReload implements the §4.3 hangup-handling contract: re-read,
// diff, and only publish RELOAD (after the snapshot is already swapped in)
// if the configuration actually changed. Every path that sent RELOADING
// ends with READY plus the STATUS of the snapshot now in effect.
func (h *Handler) handleReload() {
	_ = sdnotify.Notify(sdnotify.Reloading, sdnotify.MonotonicUsec(time.Now()))
	defer func() {
		if cur := h.Snapshot.Load(); cur != nil {
			_ = sdnotify.Notify(sdnotify.Ready, sdnotify.Status(h.statusString(cur.ListenPort)))
		}
	}()

	snap, err := config.LoadSnapshot(h.ConfigPath)
	if err != nil {
		h.logger().Warn("signal handler: reload failed, retaining current configuration", "err", err)
		return
	}

	old := h.Snapshot.Load()
	if old.Equal(snap) {
		h.logger().Info("signal handler: configuration unchanged, skipping reload")
		return
	}

	portChanged := old != nil && old.ListenPort != snap.ListenPort
	h.Snapshot.Store(snap)
	h.Bus.Set(action.Action{Kind: action.Reload, PortChanged: portChanged})

	status := h.statusString(snap.ListenPort)
	h.logger().Info("signal handler: reload complete", "port_changed", portChanged, "status", status)
}

// statusString formats the §6 STATUS payload: "Configured to listen at
// <ip>:<port>", always including the port.
func (h *Handler) statusString(port uint16) string {
	addr := net.JoinHostPort(config.ListenIP.String(), strconv.Itoa(int(port)))
	return "Configured to listen at " + addr
}
