package domain

import "errors"

// Error kinds shared across engines. Engines wrap these with context via
// fmt.Errorf("...: %w", ...); callers branch with errors.Is.
var (
	// ErrInvalidInput - malformed weights, empty asset list, out-of-range
	// parameters, non-finite prices. Surfaced to the caller; no retry.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientData - fewer samples than a calculation requires.
	// Parametric paths may continue with defaulted inputs; historical and
	// Monte Carlo calculations fail cleanly with this kind.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNumericFailure - Cholesky on a non-PSD matrix, log of a
	// non-positive value, overflow in shock combination.
	ErrNumericFailure = errors.New("numeric failure")

	// ErrTimeout - a hard calculation budget was exceeded. Soft budgets
	// produce warnings on the result instead.
	ErrTimeout = errors.New("calculation timeout")

	// ErrEmergencyCondition - the system is in emergency stop; the
	// requested operation is refused.
	ErrEmergencyCondition = errors.New("emergency condition active")
)
