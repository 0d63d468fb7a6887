// Command slimstreamer captures PCM audio from a local capture device and
// streams it to SlimProto playback clients over a control TCP connection
// plus a WAVE-over-HTTP streaming connection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heiderich/slimstreamer/internal/audio"
	"github.com/heiderich/slimstreamer/internal/hooks"
	"github.com/heiderich/slimstreamer/internal/logger"
	"github.com/heiderich/slimstreamer/internal/server"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	fileCfg, err := loadFileConfig(cfg.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "slimstreamer:", err)
		os.Exit(1)
	}
	fileCfg = cfg.applyOverrides(fileCfg)

	logger.Init()
	if err := logger.SetLevel(fileCfg.Logging.Level); err != nil {
		fmt.Printf("Warning: invalid logging.level %q, using default\n", fileCfg.Logging.Level)
	}
	log := logger.Logger().With("component", "cli")

	params, err := audio.NewParams(
		fileCfg.Device.Name,
		fileCfg.Device.SamplingRate,
		fileCfg.Device.Channels,
		fileCfg.Device.BitDepth,
		fileCfg.Device.FramesPerChunk,
		fileCfg.Device.Periods,
	)
	if err != nil {
		log.Error("invalid device configuration", "error", err)
		os.Exit(1)
	}

	hookMgr := hooks.NewManager(log)
	hookMgr.Register(hooks.NewStdioHook(log))

	srv := server.New(server.Config{
		Params:            params,
		QueueCapacity:     fileCfg.Device.QueueCapacity,
		ControlListenAddr: fileCfg.Network.ControlListenAddr,
		StreamListenAddr:  fileCfg.Network.StreamListenAddr,
		ServerPort:        uint16(fileCfg.Network.ServerPort),
		DiagnosticsEvery:  30 * time.Second,
	}, newSilenceDevice(params), hookMgr, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.ListenAndServe(ctx) }()

	select {
	case <-srv.Ready():
		log.Info("server started", "version", version,
			"control_addr", srv.ControlAddr().String(),
			"stream_addr", srv.StreamAddr().String())
	case err := <-serveDone:
		log.Error("server failed to start", "error", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveDone:
		if err != nil {
			log.Error("server exited with error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	select {
	case <-serveDone:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after shutdown timeout")
		os.Exit(1)
	}
}
