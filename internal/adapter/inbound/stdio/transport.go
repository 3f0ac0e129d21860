// Package stdio binds the proxy service to the process's own stdin/stdout
// and the usual termination signals.
package stdio

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jade-gate/jadegate/internal/service"
)

// Serve runs the proxy on os.Stdin/os.Stdout until EOF, SIGINT, or SIGTERM.
func Serve(ctx context.Context, proxy *service.ProxyService) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return proxy.Run(ctx, os.Stdin, os.Stdout)
}
