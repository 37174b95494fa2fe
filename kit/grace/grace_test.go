//go:build unix

package grace

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestContextCancelledBySignal(t *testing.T) {
	var logs bytes.Buffer
	ctx, stop := Context(context.Background(), slog.New(slog.NewTextHandler(&logs, nil)), syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after signal")
	}
	stop()
	if !strings.Contains(logs.String(), "Signal received") {
		t.Errorf("expected shutdown log, got %q", logs.String())
	}
}

func TestContextStop(t *testing.T) {
	ctx, stop := Context(context.Background(), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), syscall.SIGUSR2)
	stop()
	if ctx.Err() == nil {
		t.Fatal("context should be cancelled by stop")
	}
	// A second stop is harmless.
	stop()
}

func TestContextFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := Context(parent, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), syscall.SIGUSR2)
	defer stop()
	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled with parent")
	}
}
