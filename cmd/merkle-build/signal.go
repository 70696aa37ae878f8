package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// setupSignalContext returns a context that is cancelled when SIGINT or
// SIGTERM is received. A second signal exits immediately. The returned
// function releases the signal handler.
func setupSignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	go forwardSignals(ctx, sigChan, cancel, stopped, os.Exit)

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(stopped)
		})
		cancel()
	}
}

// forwardSignals cancels on the first signal and calls exit on the second.
// It returns once stopped is closed, or when ctx ends before any signal.
func forwardSignals(ctx context.Context, sigChan <-chan os.Signal, cancel context.CancelFunc, stopped <-chan struct{}, exit func(int)) {
	select {
	case sig := <-sigChan:
		fmt.Fprintf(os.Stderr, "\nReceived signal: %v\n", sig)
		cancel()
	case <-ctx.Done():
		return
	}

	// Partial work is never persisted, so a second signal can exit hard.
	select {
	case <-sigChan:
		exit(130)
	case <-stopped:
	}
}
