package monkey

import (
	"errors"
	"math/rand"
)

const (
	errorChance = 0.001 // 0.1% error chance
)

// RandomizeError with some probability replaces a nil error with a
// random "monkey" error. Used by the local harness to exercise the
// retry and escalation paths.
func RandomizeError(err error) error {
	if err != nil {
		return err
	}
	return ErrorWithChance(errorChance)
}

// ErrorWithChance returns a monkey error with the given probability.
func ErrorWithChance(chance float64) error {
	if rand.Float64() >= chance {
		return nil
	}
	return errors.New("monkey error")
}
