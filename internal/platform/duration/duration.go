// Package duration parses token-lifetime expressions such as "15m" or "7d".
//
// It exists so that duration policy is validated once at configuration time
// instead of being re-parsed at every token issuance.
package duration

import (
	"regexp"
	"strconv"
	"time"

	apperrors "github.com/relaynotify/relay/internal/platform/errors"
)

var pattern = regexp.MustCompile(`^(\d+)([dhms])$`)

// Duration is a validated token lifetime.
type Duration time.Duration

// Parse converts an expression with a d, h, m, or s suffix into a Duration.
func Parse(value string) (Duration, error) {
	match := pattern.FindStringSubmatch(value)
	if match == nil {
		return 0, apperrors.WithMetadata(
			apperrors.CodeMalformedDuration,
			"duration must be a positive integer with a d, h, m, or s suffix",
			map[string]string{"Value": value},
		)
	}

	amount, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeMalformedDuration, "duration amount overflows", err)
	}

	var unit time.Duration
	switch match[2] {
	case "d":
		unit = 24 * time.Hour
	case "h":
		unit = time.Hour
	case "m":
		unit = time.Minute
	case "s":
		unit = time.Second
	}
	return Duration(time.Duration(amount) * unit), nil
}

// UnmarshalText allows Duration fields in env-parsed config structs.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Seconds returns the whole number of seconds in the duration.
func (d Duration) Seconds() int64 {
	return int64(time.Duration(d) / time.Second)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
