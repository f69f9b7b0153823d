package portfolio

import (
	"errors"
	"fmt"
)

// ApplyErrorKind tags why a decision was rejected.
type ApplyErrorKind string

const (
	ErrDisabled            ApplyErrorKind = "Disabled"
	ErrBadQuantity         ApplyErrorKind = "BadQuantity"
	ErrUnknownSymbol       ApplyErrorKind = "UnknownSymbol"
	ErrOverleveraged       ApplyErrorKind = "Overleveraged"
	ErrInsufficientMargin  ApplyErrorKind = "InsufficientMargin"
	ErrMaxPositionsReached ApplyErrorKind = "MaxPositionsReached"
	ErrNoSuchPosition      ApplyErrorKind = "NoSuchPosition"
)

// ApplyError rejects a decision without mutating state.
type ApplyError struct {
	Kind   ApplyErrorKind
	Detail string
}

func (e *ApplyError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func applyErr(kind ApplyErrorKind, format string, args ...interface{}) *ApplyError {
	return &ApplyError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// AsApplyError extracts an ApplyError, if err is one.
func AsApplyError(err error) (*ApplyError, bool) {
	var ae *ApplyError
	ok := errors.As(err, &ae)
	return ae, ok
}

// ErrUnknownModel is returned for operations on an unregistered model.
var ErrUnknownModel = errors.New("portfolio: unknown model")
