package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"fluxstore/internal/logging"
)

// Validate checks every section and reports all problems at once.
// Each error names the offending key as it appears in the TOML file.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.App.Name) == "" {
		errs = append(errs, errors.New("app.name: must not be empty"))
	}
	if strings.TrimSpace(c.App.DataDir) == "" {
		errs = append(errs, errors.New("app.data_dir: must not be empty"))
	}

	if err := validateLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if err := validateLogFormat(c.Logging.Format); err != nil {
		errs = append(errs, fmt.Errorf("logging.format: %w", err))
	}

	if c.Persist.Enabled && strings.TrimSpace(c.Persist.File) == "" {
		errs = append(errs, errors.New("persist.file: required when persist.enabled is true"))
	}

	if c.Devtools.Listen != "" {
		if err := validateListenAddr(c.Devtools.Listen); err != nil {
			errs = append(errs, fmt.Errorf("devtools.listen: %w", err))
		}
	}
	if c.Devtools.History <= 0 {
		errs = append(errs, fmt.Errorf("devtools.history: must be positive, got %d", c.Devtools.History))
	}
	if c.Devtools.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("devtools.rate_per_sec: must not be negative, got %g", c.Devtools.RatePerSec))
	}

	if c.Effects.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("effects.max_workers: must be positive, got %d", c.Effects.MaxWorkers))
	}

	return errors.Join(errs...)
}

func validateListenAddr(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return errors.New("address is empty")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("invalid address %q: empty host", addr)
	}
	if port == "" {
		return fmt.Errorf("invalid address %q: empty port", addr)
	}
	return nil
}

func validateLogLevel(level string) error {
	if !logging.ValidLevel(level) {
		return fmt.Errorf("unknown level %q", level)
	}
	return nil
}

func validateLogFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text", "json":
		return nil
	}
	return fmt.Errorf("unknown format %q (want text or json)", format)
}
