package serviceutil

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// SignalContext returns a context that is cancelled on SIGINT or
// SIGTERM, daemons block on it after starting their servers.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	return ctx
}

// StartHttpServer serves mux on every interface. h2c lets reverse
// proxies in front of the daemon speak http/2 without TLS terminating
// here. Does not return unless the listener dies.
func StartHttpServer(port int, mux *http.ServeMux) {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	slog.Info("listening...", "addr", addr)

	err := http.ListenAndServe(addr, h2c.NewHandler(mux, &http2.Server{}))
	if err != nil {
		Fatal(fmt.Sprintf("failed to listen on port %d", port), err)
	}
}

// Fatal logs the error and exits. Startup-only, running services
// degrade instead of dying.
func Fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	os.Exit(1)
}
