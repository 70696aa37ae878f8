package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
)

// exitCodeError ends the process with a specific status and no message
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, cancel := setupSignalContext(context.Background())

	err := newApp(os.Stdout).Run(ctx, os.Args)
	cancel()

	if err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "merkle-build: %v\n", err)
		os.Exit(1)
	}
}
