package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for structural errors. It does not
// touch the filesystem; callers that need observer paths to exist should
// check that separately.
func (c *Config) Validate() error {
	var errs ValidationErrors

	seen := make(map[string]bool, len(c.Observers))
	for i, obs := range c.Observers {
		if obs.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("observers[%d].name", i),
				Message: "must not be empty",
			})
			continue
		}
		if seen[obs.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("observers[%d].name", i),
				Message: fmt.Sprintf("duplicate observer name %q", obs.Name),
			})
		}
		seen[obs.Name] = true

		if obs.Path == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("observers[%d].path", i),
				Message: "must not be empty",
			})
		}
	}

	switch c.Network.DHTMode {
	case "", DHTModeAuto, DHTModeClient, DHTModeServer, DHTModeOff:
	default:
		errs = append(errs, ValidationError{
			Field:   "network.dht_mode",
			Message: fmt.Sprintf("unknown mode %q", c.Network.DHTMode),
		})
	}

	if c.Network.Port < 0 || c.Network.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "network.port",
			Message: fmt.Sprintf("out of range: %d", c.Network.Port),
		})
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", c.Logging.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
