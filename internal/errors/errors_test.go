package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"validation wraps cause", NewValidationError("lot_size", 0.005, "below minimum", ErrLotBelowMinimum), ErrLotBelowMinimum},
		{"risk rejection", NewRiskRejectedError("Exposure limit reached"), ErrRiskRejected},
		{"persistence without cause", NewPersistenceError("failed to save, retry", nil), ErrPersistence},
		{"persistence with cause", NewPersistenceError("failed to save", ErrNetwork), ErrNetwork},
		{"feed closed by default", NewFeedConnectionError("domestic", nil), ErrFeedClosed},
		{"rate fetch", NewRateFetchError("http://rates", fmt.Errorf("status 500")), ErrRateFetch},
		{"wrapped twice", fmt.Errorf("submit: %w", NewRiskRejectedError("no")), ErrRiskRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.target)
			}
		})
	}
}

func TestRiskRejectedMessage(t *testing.T) {
	if got := NewRiskRejectedError("Exposure limit reached").Error(); got != "Exposure limit reached" {
		t.Errorf("Error() = %q", got)
	}
	if got := NewRiskRejectedError("").Error(); got != ErrRiskRejected.Error() {
		t.Errorf("empty message Error() = %q", got)
	}
}

func TestUserVisible(t *testing.T) {
	visible := []error{
		NewValidationError("lot_size", 1.5, "must be whole", ErrLotNotWhole),
		NewRiskRejectedError("rejected"),
		NewPersistenceError("failed to save, retry", nil),
		fmt.Errorf("balance: %w", ErrNetwork),
		ErrSubmissionInFlight,
	}
	for _, err := range visible {
		if !UserVisible(err) {
			t.Errorf("UserVisible(%v) = false", err)
		}
	}

	hidden := []error{
		NewFeedConnectionError("international", nil),
		NewRateFetchError("http://rates", errors.New("timeout")),
		ErrConfigInvalid,
	}
	for _, err := range hidden {
		if UserVisible(err) {
			t.Errorf("UserVisible(%v) = true", err)
		}
	}
}
