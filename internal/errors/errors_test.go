package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryMatching(t *testing.T) {
	t.Parallel()

	cause := NewPlain("disk full")
	err := Storage("create measurement", cause)
	wrapped := fmt.Errorf("ingest: %w", err)

	assert.True(t, Is(wrapped, ErrStorage))
	assert.False(t, Is(wrapped, ErrNotFound))
	assert.True(t, Is(wrapped, cause), "cause must stay reachable")
	assert.Equal(t, "ingest: create measurement: disk full", wrapped.Error())

	cat, ok := CategoryOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, CategoryStorage, cat)
}

func TestCategoryOf_Plain(t *testing.T) {
	t.Parallel()

	_, ok := CategoryOf(NewPlain("plain"))
	assert.False(t, ok)
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "not_found error", ErrNotFound.Error())
	assert.Equal(t, "ack: not_found error", (&Error{Category: CategoryNotFound, Op: "ack"}).Error())
	assert.Equal(t, "OPEN ticket 9 not found",
		Newf(CategoryNotFound, "", "OPEN ticket %d not found", 9).Error())
}

func TestAs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrap: %w", Config("load", NewPlain("transport host is required")))
	var e *Error
	assert.True(t, As(err, &e))
	assert.Equal(t, CategoryConfig, e.Category)
	assert.Equal(t, "load", e.Op)
}
