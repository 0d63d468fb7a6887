package main

import (
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to merging onto a
// FileConfig, so main.go can validate and map them in one place.
type cliConfig struct {
	configPath        string
	controlListenAddr string
	streamListenAddr  string
	logLevel          string
	showVersion       bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("slimstreamer", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.configPath, "config", "", "Path to a YAML config file (optional)")
	fs.StringVar(&cfg.controlListenAddr, "control-listen", "", "Override network.control_listen_addr")
	fs.StringVar(&cfg.streamListenAddr, "stream-listen", "", "Override network.stream_listen_addr")
	fs.StringVar(&cfg.logLevel, "log-level", "", "Override logging.level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.logLevel != "" {
		switch cfg.logLevel {
		case "debug", "info", "warn", "error":
		default:
			return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
		}
	}

	return cfg, nil
}

// applyOverrides layers non-empty CLI flag values onto a loaded FileConfig.
func (c *cliConfig) applyOverrides(fc FileConfig) FileConfig {
	if c.controlListenAddr != "" {
		fc.Network.ControlListenAddr = c.controlListenAddr
	}
	if c.streamListenAddr != "" {
		fc.Network.StreamListenAddr = c.streamListenAddr
	}
	if c.logLevel != "" {
		fc.Logging.Level = c.logLevel
	}
	return fc
}
