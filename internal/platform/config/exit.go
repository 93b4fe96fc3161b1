package config

import (
	"fmt"
	"os"
)

// Exitf prints a formatted message to stderr and terminates the process with
// exit code 1. CLI entry points use it for fatal startup failures.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
