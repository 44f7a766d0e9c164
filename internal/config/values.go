package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a config-file duration. Besides Go duration syntax ("90s",
// "15m") it accepts whole days ("7d"), which the maintenance intervals use.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	var parsed time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return fmt.Errorf("invalid day count %q", s)
		}
		parsed = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if parsed, err = time.ParseDuration(s); err != nil {
			return err
		}
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText also drives JSON, so durations print as "1m30s" in status output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret holds a credential such as the oracle API key. Every formatting and
// encoding path prints a placeholder; only Value exposes the text.
type Secret string

const secretPlaceholder = "[REDACTED]"

func (s Secret) redacted() string {
	if s == "" {
		return ""
	}
	return secretPlaceholder
}

func (s Secret) String() string { return s.redacted() }

// Format covers every fmt verb, including %#v and %q.
func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(s.redacted()))
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.redacted()), nil
}

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}

// Value returns the credential itself.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }
