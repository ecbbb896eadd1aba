// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidJobType is returned when a job type is not one of the
	// known job type constants.
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrInvalidJobStatus is returned when a job status is not valid.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrInvalidCreditType is returned when a credit type is not one of the
	// known credit type constants.
	ErrInvalidCreditType = errors.New("invalid credit type")

	// ErrInvalidAmount is returned when a credit amount is zero or has the
	// wrong sign for the operation.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientCredits is returned when a consumption cannot be covered
	// by the user's available balance. The ledger is left unchanged.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidSubscriptionStatus is returned when a subscription status is
	// not valid.
	ErrInvalidSubscriptionStatus = errors.New("invalid subscription status")
)
