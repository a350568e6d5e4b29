//go:build !parcheck_disabled

package parcheck

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Config is Runner configuration sourced from the environment, modeled on
// internal/profile.Profile's getEnvOrDefault* pattern: every field has a
// sane default, and a malformed (non-default) value is a fatal startup
// error rather than a silently-ignored one, since a wrong iteration count
// or timeout would otherwise just make exploration look falsely complete.
type Config struct {
	// MaxIterations caps how many schedules one Run call explores before
	// giving up and reporting the schedule tree as incomplete. Zero means
	// "run until the schedule tree is exhausted".
	MaxIterations int
	// Replay, if non-empty, is a trace string (see ParseTrace) forcing one
	// schedule instead of exploring: its steps are taken in order, and once
	// they run out the remaining steps are chosen at random. Takes
	// precedence over MaxIterations.
	Replay string
	// WaitTimeout bounds how long the controller waits for quiescence
	// before declaring a task stuck. Zero means the 5s default.
	WaitTimeout time.Duration
}

const (
	envMaxIterations = "PARCHECK_MAX_ITERATIONS"
	envReplay        = "PARCHECK_REPLAY"
	envWaitTimeout   = "PARCHECK_WAIT_TIMEOUT"

	defaultWaitTimeout = 5 * time.Second
)

// ConfigFromEnv reads PARCHECK_MAX_ITERATIONS, PARCHECK_REPLAY, and
// PARCHECK_WAIT_TIMEOUT, falling back to defaults for anything unset. A
// value that is set but fails to parse is a fatal configuration error: it
// means the caller asked for something specific and got silence instead.
func ConfigFromEnv() (Config, error) {
	cfg := Config{WaitTimeout: defaultWaitTimeout}

	if v := os.Getenv(envMaxIterations); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "parcheck: invalid %s=%q (want a non-negative integer)", envMaxIterations, v)
		}
		if n < 0 {
			return Config{}, errors.Errorf("parcheck: invalid %s=%q (want a non-negative integer)", envMaxIterations, v)
		}
		cfg.MaxIterations = n
	}

	cfg.Replay = os.Getenv(envReplay)

	if v := os.Getenv(envWaitTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "parcheck: invalid %s=%q (want a positive Go duration, e.g. \"5s\")", envWaitTimeout, v)
		}
		if d <= 0 {
			return Config{}, errors.Errorf("parcheck: invalid %s=%q (want a positive Go duration, e.g. \"5s\")", envWaitTimeout, v)
		}
		cfg.WaitTimeout = d
	}

	return cfg, nil
}
