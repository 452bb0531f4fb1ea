package main

import (
	"errors"
	"os"

	"github.com/KemoDesignz/dev-vm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		// cobra already printed the error; only the exit code is ours.
		var coded interface{ ExitCode() int }
		if errors.As(err, &coded) {
			os.Exit(coded.ExitCode())
		}
		os.Exit(1)
	}
}
