package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	sslserver "github.com/MbeleckBerle/ssl-server"
	"github.com/MbeleckBerle/ssl-server/utils"
)

func main() {
	configPath := flag.String("config", "config.ini", "path to the INI configuration file")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := utils.NewDefaultLogger(level)

	settings, err := sslserver.LoadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	srv, err := sslserver.NewServer(settings, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: server cannot start: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Listen(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to listen: %v\n", err)
		os.Exit(1)
	}
	log.Info("server: up", "addr", settings.ListenURL(), "reread", settings.RereadOnQuery)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("server: shutting down")
	cancel()
	if err := srv.Close(); err != nil {
		log.Error("server: shutdown failed", "err", err)
		os.Exit(1)
	}
}
