// Package banner embeds and renders the startup banner logged once at
// process start.
package banner

import (
	_ "embed"
	"log/slog"
	"strings"
)

//go:embed banner.txt
var raw string

// Version is substituted for the @project_version@ placeholder. It defaults
// to "dev" and can be overridden at build time with -ldflags -X.
var Version = "dev"

// Render returns the banner text with its version placeholder filled in.
func Render() string {
	return strings.ReplaceAll(raw, "@project_version@", Version)
}

// Log writes the rendered banner to logger at Info level, one line at a
// time so it survives structured/JSON handlers without embedded newlines
// mangling the record.
func Log(logger *slog.Logger) {
	for _, line := range strings.Split(strings.TrimRight(Render(), "\n"), "\n") {
		logger.Info(line)
	}
}
