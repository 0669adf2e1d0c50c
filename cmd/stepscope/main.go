package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/willibrandon/stepscope/internal/commands"
	"github.com/willibrandon/stepscope/pkg/logger"
)

const (
	errCommand = 1
	errSetup   = 2
)

func main() {
	log := logger.New("stepscope")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := commands.NewRootCmd(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errSetup)
	}

	err = root.ExecuteContext(ctx)
	log.Flush()
	if err != nil {
		stop()
		os.Exit(errCommand)
	}
}
