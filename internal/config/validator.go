package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "layout.pointer_size")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// ValidOutputFormats returns the list of valid capture formats
func ValidOutputFormats() []string {
	return []string{"btsnoop", "pcap", "pcapng"}
}

// ValidByteOrders returns the list of valid byte orders
func ValidByteOrders() []string {
	return []string{"little", "le", "big", "be"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLog()...)
	errors = append(errors, c.validateSource()...)
	errors = append(errors, c.validateLayout()...)
	errors = append(errors, c.validateBuffers()...)
	errors = append(errors, c.validateOutput()...)

	return errors
}

func (c *Config) validateLog() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Log.Format)) {
		errors = append(errors, ValidationError{
			Field:   "log.format",
			Value:   c.Log.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}
	if c.Log.File.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "log.file.max_size_mb",
			Value:   c.Log.File.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Log.File.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "log.file.max_backups",
			Value:   c.Log.File.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateSource() []ValidationError {
	var errors []ValidationError

	if c.Source.Image != "" && c.Source.PID != 0 {
		errors = append(errors, ValidationError{
			Field:   "source",
			Value:   fmt.Sprintf("image=%s pid=%d", c.Source.Image, c.Source.PID),
			Message: "image and pid are mutually exclusive",
		})
	}
	if c.Source.PID < 0 {
		errors = append(errors, ValidationError{
			Field:   "source.pid",
			Value:   c.Source.PID,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateLayout() []ValidationError {
	var errors []ValidationError

	if c.Layout.PointerSize != 4 && c.Layout.PointerSize != 8 {
		errors = append(errors, ValidationError{
			Field:   "layout.pointer_size",
			Value:   c.Layout.PointerSize,
			Message: "must be 4 or 8",
		})
	}
	if c.Layout.ByteOrder != "" && !slices.Contains(ValidByteOrders(), strings.ToLower(c.Layout.ByteOrder)) {
		errors = append(errors, ValidationError{
			Field:   "layout.byte_order",
			Value:   c.Layout.ByteOrder,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidByteOrders(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateBuffers() []ValidationError {
	var errors []ValidationError

	seen := make(map[string]bool)
	for i, b := range c.Buffers {
		field := fmt.Sprintf("buffers[%d]", i)
		if b.Name == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".name",
				Value:   b.Name,
				Message: "must not be empty",
			})
			continue
		}
		if seen[b.Name] {
			errors = append(errors, ValidationError{
				Field:   field + ".name",
				Value:   b.Name,
				Message: "duplicate buffer name",
			})
		}
		seen[b.Name] = true

		if b.Address != 0 && (b.Base != 0 || b.Capacity != 0 || b.Head != 0 || b.Tail != 0) {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   b.Name,
				Message: "address and a static descriptor are mutually exclusive",
			})
		}
	}

	return errors
}

func (c *Config) validateOutput() []ValidationError {
	var errors []ValidationError

	if c.Output.Path == "" {
		errors = append(errors, ValidationError{
			Field:   "output.path",
			Value:   c.Output.Path,
			Message: "must not be empty",
		})
	}
	if !slices.Contains(ValidOutputFormats(), strings.ToLower(c.Output.Format)) {
		errors = append(errors, ValidationError{
			Field:   "output.format",
			Value:   c.Output.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidOutputFormats(), ", ")),
		})
	}

	return errors
}
