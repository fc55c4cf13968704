package worker

import (
	"errors"
	"fmt"
	"time"
)

// Config tunes the job worker.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	// JobTimeout bounds one Handle call; a renewal that hangs on a slot lock
	// is cancelled and retried.
	JobTimeout      time.Duration
	ShutdownTimeout time.Duration
	// StaleJobThreshold is the age after which a running job is assumed
	// orphaned by a crashed process and put back to pending on Start.
	StaleJobThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:       2,
		PollInterval:      5 * time.Second,
		JobTimeout:        5 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		StaleJobThreshold: 10 * time.Minute,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 || c.Concurrency > 100 {
		errs = append(errs, fmt.Errorf("concurrency must be between 1 and 100, got %d", c.Concurrency))
	}
	for _, d := range []struct {
		name string
		got  time.Duration
		min  time.Duration
	}{
		{"poll interval", c.PollInterval, time.Second},
		{"job timeout", c.JobTimeout, time.Second},
		{"shutdown timeout", c.ShutdownTimeout, time.Second},
		{"stale job threshold", c.StaleJobThreshold, time.Minute},
	} {
		if d.got < d.min {
			errs = append(errs, fmt.Errorf("%s must be at least %v, got %v", d.name, d.min, d.got))
		}
	}
	// A job must be able to finish before the worker calls it stale.
	if c.JobTimeout >= c.StaleJobThreshold && c.StaleJobThreshold >= time.Minute {
		errs = append(errs, fmt.Errorf("job timeout %v must be shorter than stale job threshold %v", c.JobTimeout, c.StaleJobThreshold))
	}
	return errors.Join(errs...)
}
