// Package errors adds failure categories on top of the standard errors package.
//
// Components wrap failures with a Category so callers can branch on the kind of
// failure (bad input, missing record, storage outage, transport outage, bad
// configuration) without matching on message text. Is and As forward to the
// standard library so this package can replace the stdlib import.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category classifies a failure.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryStorage    Category = "storage"
	CategoryTransport  Category = "transport"
	CategoryConfig     Category = "config"
)

// Sentinels matched by errors.Is against any *Error of the same category.
var (
	ErrValidation = &Error{Category: CategoryValidation}
	ErrNotFound   = &Error{Category: CategoryNotFound}
	ErrStorage    = &Error{Category: CategoryStorage}
	ErrTransport  = &Error{Category: CategoryTransport}
	ErrConfig     = &Error{Category: CategoryConfig}
)

// Error is a categorized failure. Op names the operation that failed.
type Error struct {
	Category Category
	Op       string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s error", e.Op, e.Category)
	default:
		return string(e.Category) + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error with the same category and no
// Op or cause of its own, which is how the package sentinels are built.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Err != nil {
		return e == t
	}
	return e.Category == t.Category
}

// New wraps err under category for operation op.
func New(category Category, op string, err error) error {
	return &Error{Category: category, Op: op, Err: err}
}

// Newf builds a categorized error from a format string.
func Newf(category Category, op, format string, args ...any) error {
	return &Error{Category: category, Op: op, Err: fmt.Errorf(format, args...)}
}

func Validation(op string, err error) error { return New(CategoryValidation, op, err) }
func NotFound(op string, err error) error   { return New(CategoryNotFound, op, err) }
func Storage(op string, err error) error    { return New(CategoryStorage, op, err) }
func Transport(op string, err error) error  { return New(CategoryTransport, op, err) }
func Config(op string, err error) error     { return New(CategoryConfig, op, err) }

// CategoryOf returns the category of the outermost *Error in err's chain.
func CategoryOf(err error) (Category, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category, true
	}
	return "", false
}

func Is(err, target error) bool { return stderrors.Is(err, target) }
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
func Unwrap(err error) error     { return stderrors.Unwrap(err) }
func Join(errs ...error) error   { return stderrors.Join(errs...) }
func NewPlain(text string) error { return stderrors.New(text) }
