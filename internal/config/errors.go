package config

import "fmt"

// ConfigurationError reports a missing or unusable prerequisite, such as an
// external toolchain that cannot be located or started. It is fatal for the
// command that needs the prerequisite.
type ConfigurationError struct {
	Component string
	Err       error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Component, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
