package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation  = errors.New("invalid price update")
	ErrDelivery    = errors.New("subscriber delivery failed")
	ErrSourceFatal = errors.New("source unrecoverable")
)

// ValidationError marks a malformed update; the event is dropped and
// ingestion continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid price update: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DeliveryError records a subscriber that could not accept a push.
type DeliveryError struct {
	HandleID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to subscriber %s: %v", e.HandleID, e.Err)
}

func (e *DeliveryError) Unwrap() []error { return []error{ErrDelivery, e.Err} }

// SourceFatalError stops the ingestor. Only sources raise it.
type SourceFatalError struct {
	Source string
	Err    error
}

func (e *SourceFatalError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceFatalError) Unwrap() []error { return []error{ErrSourceFatal, e.Err} }

func NewSourceFatal(source string, err error) error {
	return &SourceFatalError{Source: source, Err: err}
}
