// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrFeedClosed = errors.New("feed connection closed")

	// Absorbed by the converter, which keeps the previous rate.
	ErrRateFetch = errors.New("exchange rate fetch failed")

	// Validation.
	ErrNoSymbol           = errors.New("no symbol selected")
	ErrInvalidLotSize     = errors.New("lot size must be greater than zero")
	ErrLotBelowMinimum    = errors.New("lot size below minimum")
	ErrLotNotWhole        = errors.New("lot size must be a whole number")
	ErrLimitPriceRequired = errors.New("limit price is required")
	ErrNoQuote            = errors.New("no live quote available")
	ErrInsufficientMargin = errors.New("insufficient margin")

	// Submission.
	ErrRiskRejected       = errors.New("order rejected by risk check")
	ErrPersistence        = errors.New("failed to save order")
	ErrNetwork            = errors.New("network error")
	ErrSubmissionInFlight = errors.New("an order submission is already in progress")

	ErrConfigInvalid = errors.New("invalid configuration")
)

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Err:     err,
	}
}

// RiskRejectedError carries the pre-trade service's rejection message verbatim.
type RiskRejectedError struct {
	Message string
}

func (e *RiskRejectedError) Error() string {
	return e.Message
}

func (e *RiskRejectedError) Unwrap() error {
	return ErrRiskRejected
}

// NewRiskRejectedError creates a new RiskRejectedError.
func NewRiskRejectedError(message string) *RiskRejectedError {
	if message == "" {
		message = ErrRiskRejected.Error()
	}
	return &RiskRejectedError{Message: message}
}

// PersistenceError represents a failed order save.
type PersistenceError struct {
	Message string
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PersistenceError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrPersistence
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(message string, err error) *PersistenceError {
	return &PersistenceError{
		Message: message,
		Err:     err,
	}
}

// FeedConnectionError represents a socket error or close on a feed.
type FeedConnectionError struct {
	Feed string
	Err  error
}

func (e *FeedConnectionError) Error() string {
	return fmt.Sprintf("feed %s: connection lost: %v", e.Feed, e.Err)
}

func (e *FeedConnectionError) Unwrap() error {
	return e.Err
}

// NewFeedConnectionError creates a new FeedConnectionError.
func NewFeedConnectionError(feed string, err error) *FeedConnectionError {
	if err == nil {
		err = ErrFeedClosed
	}
	return &FeedConnectionError{Feed: feed, Err: err}
}

// RateFetchError represents a failed exchange-rate refresh.
type RateFetchError struct {
	Source string
	Err    error
}

func (e *RateFetchError) Error() string {
	return fmt.Sprintf("rate fetch [%s]: %v", e.Source, e.Err)
}

func (e *RateFetchError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRateFetch) match any RateFetchError.
func (e *RateFetchError) Is(target error) bool {
	return target == ErrRateFetch
}

// NewRateFetchError creates a new RateFetchError.
func NewRateFetchError(source string, err error) *RateFetchError {
	return &RateFetchError{Source: source, Err: err}
}

// UserVisible reports whether err belongs to a class that is surfaced to the
// user: validation failures, risk rejections, persistence failures and
// network failures during submission.
func UserVisible(err error) bool {
	var ve *ValidationError
	var re *RiskRejectedError
	var pe *PersistenceError
	return errors.As(err, &ve) || errors.As(err, &re) || errors.As(err, &pe) ||
		errors.Is(err, ErrNetwork) || errors.Is(err, ErrSubmissionInFlight)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
