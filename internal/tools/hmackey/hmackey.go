// Package hmackey generates the HMAC signing secrets the auth service
// requires. It prints one env line per secret so the output can be pasted
// into an environment file directly.
package hmackey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
)

// envKeys lists the secrets the auth service expects, in output order. The
// access and refresh secrets must differ, so each line gets its own bytes.
var envKeys = []string{
	"RELAY_AUTH_ACCESS_SECRET",
	"RELAY_AUTH_REFRESH_SECRET",
}

// Config holds configuration for HMAC key generation.
type Config struct {
	Bytes int
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes per secret (default: 32)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the keys and writes them to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes <= 0 {
		return errors.New("bytes must be greater than zero")
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	for _, key := range envKeys {
		buf := make([]byte, cfg.Bytes)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return fmt.Errorf("generate random bytes: %w", err)
		}
		if _, err := fmt.Fprintf(out, "%s=%s\n", key, hex.EncodeToString(buf)); err != nil {
			return err
		}
	}
	return nil
}
