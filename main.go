package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// A failed run already printed its JSON summary; just set the exit code.
		if errors.Is(err, errRunFailed) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
