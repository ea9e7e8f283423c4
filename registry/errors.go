package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateMetric is returned when a name is declared again with a
// different type or different label names.
type ErrDuplicateMetric struct {
	Name     string
	Existing Type
	Declared Type
}

func (e ErrDuplicateMetric) Error() string {
	return fmt.Sprintf("metric %s already declared as %s, cannot redeclare as %s", e.Name, e.Existing, e.Declared)
}

// ErrNegativeDelta is returned when a counter would decrease.
type ErrNegativeDelta struct {
	Name  string
	Delta float64
}

func (e ErrNegativeDelta) Error() string {
	return fmt.Sprintf("counter %s cannot be incremented by negative delta %v", e.Name, e.Delta)
}

// ErrUnknownMetric is returned when writing to a name that was never declared.
type ErrUnknownMetric struct {
	Name string
}

func (e ErrUnknownMetric) Error() string {
	return fmt.Sprintf("metric %s is not declared", e.Name)
}

// ErrTypeMismatch is returned when a write does not fit the declared type,
// e.g. setting a counter.
type ErrTypeMismatch struct {
	Name string
	Want Type
	Have Type
}

func (e ErrTypeMismatch) Error() string {
	return fmt.Sprintf("metric %s is a %s, not a %s", e.Name, e.Have, e.Want)
}

// ErrLabelMismatch is returned when the label names of a write differ from
// the declared ones.
type ErrLabelMismatch struct {
	Name     string
	Declared []string
	Given    []string
}

func (e ErrLabelMismatch) Error() string {
	return fmt.Sprintf("metric %s takes labels [%s], got [%s]",
		e.Name, strings.Join(e.Declared, ","), strings.Join(e.Given, ","))
}

// IsContractViolation reports whether err is one of the registry errors.
// They indicate a defect in the calling code, never a transient condition.
func IsContractViolation(err error) bool {
	var (
		dup      ErrDuplicateMetric
		neg      ErrNegativeDelta
		unknown  ErrUnknownMetric
		typ      ErrTypeMismatch
		mismatch ErrLabelMismatch
	)
	return errors.As(err, &dup) || errors.As(err, &neg) || errors.As(err, &unknown) ||
		errors.As(err, &typ) || errors.As(err, &mismatch)
}
