// Command servedir serves a directory over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/sndbox/servedir/internal/config"
	"github.com/sndbox/servedir/internal/dispatch"
	"github.com/sndbox/servedir/internal/server"
)

func fatal(format string, args ...any) {
	color.New(color.FgRed).Fprintf(os.Stderr, "servedir: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fatal("%v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	d, err := dispatch.NewFromConfig(cfg.Server, logger)
	if err != nil {
		fatal("%v", err)
	}

	srv := server.New(cfg.Server.Addr(), d, logger)
	if err := srv.Listen(); err != nil {
		fatal("%v", err)
	}

	host := cfg.Server.BindAddress
	if host == "" {
		host = "localhost"
	}
	port := cfg.Server.Port
	if addr, ok := srv.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	url := fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(port)))
	fmt.Printf("Serving %s at %s\n", color.CyanString(cfg.Server.Root), color.GreenString(url))
	fmt.Println("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		fatal("%v", err)
	}
	slog.Info("server stopped")
}
