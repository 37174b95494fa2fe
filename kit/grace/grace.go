package grace

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/vormadev/assetgraph/kit/colorlog"
)

func defaultSignals() []os.Signal {
	if runtime.GOOS == "windows" {
		return []os.Signal{os.Interrupt}
	}
	return []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}

// Context returns a context that is cancelled when the process receives one
// of signals (default: SIGHUP, SIGINT, SIGTERM, SIGQUIT) or when stop is
// called. The received signal is logged. Call stop to release the signal
// handler.
func Context(parent context.Context, log *slog.Logger, signals ...os.Signal) (ctx context.Context, stop context.CancelFunc) {
	if log == nil {
		log = colorlog.New("grace")
	}
	if len(signals) == 0 {
		signals = defaultSignals()
	}

	ctx, cancel := context.WithCancel(parent)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, signals...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case s := <-sig:
			log.Info("[shutdown] Signal received, shutting down", "signal", s)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sig)
		cancel()
		<-done
	}
}
