// Package conformal holds the error kinds and enums shared by the scoring and calibration packages.
package conformal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput is returned for malformed probability or score batches and misaligned labels.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidParameter is returned for out of range alpha, unknown strategy or task mode names.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInsufficientCalibrationData is returned when a calibration group has no examples.
	ErrInsufficientCalibrationData = errors.New("insufficient calibration data")
)

// TaskMode selects the calibration pass of a hierarchical classifier.
type TaskMode int

const (
	// LowLevel calibrates each fine-grained task on its own.
	LowLevel TaskMode = iota
	// HighLevel calibrates each coarse task and the joint label tuple.
	HighLevel
)

func (m TaskMode) String() string {
	switch m {
	case LowLevel:
		return "low"
	case HighLevel:
		return "high"
	}
	return fmt.Sprintf("TaskMode(%d)", int(m))
}

// ParseTaskMode accepts "low"/"low-level" and "high"/"high-level", case-insensitively.
func ParseTaskMode(s string) (TaskMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "low-level", "low_level":
		return LowLevel, nil
	case "high", "high-level", "high_level":
		return HighLevel, nil
	}
	return 0, fmt.Errorf("%w: unknown task mode %q", ErrInvalidParameter, s)
}

// ValidateAlpha checks that alpha lies in the open interval (0, 1).
func ValidateAlpha(alpha float64) error {
	if !(alpha > 0 && alpha < 1) {
		return fmt.Errorf("%w: alpha must be in (0, 1), got %v", ErrInvalidParameter, alpha)
	}
	return nil
}
