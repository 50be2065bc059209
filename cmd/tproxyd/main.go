package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/relaymesh/tproxyd/internal/action"
	"github.com/relaymesh/tproxyd/internal/banner"
	"github.com/relaymesh/tproxyd/internal/caps"
	"github.com/relaymesh/tproxyd/internal/config"
	"github.com/relaymesh/tproxyd/internal/forwarder"
	"github.com/relaymesh/tproxyd/internal/logging"
	"github.com/relaymesh/tproxyd/internal/signalctl"
	"github.com/relaymesh/tproxyd/internal/statusapi"
	"github.com/relaymesh/tproxyd/internal/supervisor"
)

// appName names the systemd-ExecStart-style CONFIGURATION_DIRECTORY /
// LOGS_DIRECTORY conventions resolved in internal/config (§6).
const appName = "tproxyd"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configFile string
	statusAddr string
	jsonLogs   bool
	debug      bool
	skipCaps   bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configFile, "config", "", "Path to the forwarding config file (overrides CONFIG_FILE/CONFIGURATION_DIRECTORY)")
	flag.StringVar(&f.statusAddr, "status-addr", "127.0.0.1:8081", "Bind address for the read-only status HTTP server")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&f.skipCaps, "skip-capability-check", false, "Skip the CAP_NET_ADMIN/CAP_NET_BIND_SERVICE probe (testing only)")
	flag.Parse()
	return f
}

func run() error {
	flags := parseFlags()

	if !flags.skipCaps {
		if err := caps.Require(); err != nil {
			return fmt.Errorf("capability check failed: %w", err)
		}
	}

	configPath := flags.configFile
	if configPath == "" {
		resolved, err := config.ResolveConfigPath(appName)
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		configPath = resolved
	}

	snapshot, err := config.LoadSnapshot(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := "INFO"
	if flags.debug {
		logLevel = "DEBUG"
	}

	var logOutput io.Writer = os.Stdout
	if logPath, ok := config.ResolveLogPath(appName); ok {
		logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		logOutput = logFile
	}

	logger := logging.Configure(logging.Config{
		Level:            logLevel,
		Structured:       flags.jsonLogs,
		StructuredFormat: "json",
		IncludePID:       true,
		Output:           logOutput,
	})

	banner.Log(logger)
	logger.Info("tproxyd starting",
		"config_path", configPath,
		"listen_port", snapshot.ListenPort,
		"udp_routes", snapshot.UDPMap.Len(),
		"tcp_routes", snapshot.TCPMap.Len(),
	)

	bus := action.NewBus()
	current := config.NewAtomicSnapshot(snapshot)

	udpFwd := &forwarder.UDPForwarder{Logger: logger, Snapshot: current, Bus: bus}
	tcpFwd := &forwarder.TCPForwarder{Logger: logger, Snapshot: current, Bus: bus}
	sigHandler := &signalctl.Handler{Logger: logger, Bus: bus, Snapshot: current, ConfigPath: configPath}

	status := &statusapi.Server{Logger: logger, Bus: bus, Snapshot: current, Addr: flags.statusAddr}
	go func() {
		if err := status.Run(); err != nil {
			logger.Warn("status api exited", "err", err)
		}
	}()

	sup := &supervisor.Supervisor{Logger: logger, Bus: bus}
	err = sup.Run([]supervisor.Worker{
		{Label: "udp-forwarder", Run: udpFwd.Run},
		{Label: "tcp-forwarder", Run: tcpFwd.Run},
		{Label: "signal-handler", Run: sigHandler.Run},
	})

	logger.Info("tproxyd stopped")
	return err
}
