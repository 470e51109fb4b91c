package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/replicate/rget/cmd"
	"github.com/replicate/rget/pkg/logging"
)

func main() {
	logging.SetupLogger()
	rootCMD := cmd.GetRootCommand()

	// allows us to see how many rget procs are running at a time
	tmpFile := filepath.Join(os.TempDir(), fmt.Sprintf(".rget-%d", os.Getpid()))
	_ = os.WriteFile(tmpFile, []byte(""), 0644)

	// an interrupted download stops cleanly and keeps its progress
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCMD.ExecuteContext(ctx)
	stop()
	os.Remove(tmpFile)
	if err != nil {
		os.Exit(1)
	}
}
