package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

func ValidLogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "error"}
}

func ValidLogFormats() []string {
	return []string{"console", "json"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateShell()...)
	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateProcess()...)
	errors = append(errors, c.validateLogging()...)
	return errors
}

func (c *Config) validateShell() []ValidationError {
	var errors []ValidationError
	if c.Shell.PTYCols <= 0 {
		errors = append(errors, ValidationError{Field: "shell.pty_cols", Value: c.Shell.PTYCols, Message: "must be positive"})
	}
	if c.Shell.PTYRows <= 0 {
		errors = append(errors, ValidationError{Field: "shell.pty_rows", Value: c.Shell.PTYRows, Message: "must be positive"})
	}
	// uint16 winsize
	const maxDim = 65535
	if c.Shell.PTYCols > maxDim {
		errors = append(errors, ValidationError{Field: "shell.pty_cols", Value: c.Shell.PTYCols, Message: fmt.Sprintf("exceeds maximum of %d", maxDim)})
	}
	if c.Shell.PTYRows > maxDim {
		errors = append(errors, ValidationError{Field: "shell.pty_rows", Value: c.Shell.PTYRows, Message: fmt.Sprintf("exceeds maximum of %d", maxDim)})
	}
	for _, kv := range c.Shell.Env {
		if key, _, ok := strings.Cut(kv, "="); !ok || key == "" {
			errors = append(errors, ValidationError{Field: "shell.env", Value: kv, Message: "must be KEY=VALUE"})
		}
	}
	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError
	s := c.Session

	if s.DefaultTimeoutMs <= 0 {
		errors = append(errors, ValidationError{Field: "session.default_timeout_ms", Value: s.DefaultTimeoutMs, Message: "must be positive"})
	}
	if s.GracePeriodMs <= 0 {
		errors = append(errors, ValidationError{Field: "session.grace_period_ms", Value: s.GracePeriodMs, Message: "must be positive"})
	}
	if s.RetentionMinutes < 0 {
		errors = append(errors, ValidationError{Field: "session.retention_minutes", Value: s.RetentionMinutes, Message: "must be non-negative"})
	}
	if s.MaxOutputBytes < 0 {
		errors = append(errors, ValidationError{Field: "session.max_output_bytes", Value: s.MaxOutputBytes, Message: "must be non-negative"})
	}
	if s.RetentionMinutes > 0 && s.SweepIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{Field: "session.sweep_interval_seconds", Value: s.SweepIntervalSeconds, Message: "must be positive when retention is enabled"})
	}
	return errors
}

func (c *Config) validateProcess() []ValidationError {
	if c.Process.ListLimit < 0 {
		return []ValidationError{{Field: "process.list_limit", Value: c.Process.ListLimit, Message: "must be non-negative"}}
	}
	return nil
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.Format != "" && !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}
	return errors
}
