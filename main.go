// The main package for the imagearchiver executable.
package main

import (
	"context"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"

	"github.com/JakeFAU/listing-image-archiver/cmd"
)

const version = "0.1.0"

// main defers all execution to the Cobra CLI.
func main() {
	if err := fang.Execute(
		context.Background(),
		cmd.NewRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}
