package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/TheCjw/DoHVerifier/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.CommandRoot.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
