package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid decomposition or pyramid parameters.
	ErrConfiguration = errors.New("configuration error")

	// ErrResourceUnavailable marks a failed upload to the GPU command layer.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrHistoryUnavailable marks a mask history operation at a boundary or
	// on a disabled history.
	ErrHistoryUnavailable = errors.New("mask history unavailable")
)

// ConfigError describes a rejected parameter.
//
// It matches ErrConfiguration under errors.Is.
type ConfigError struct {
	Param  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Param, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }
