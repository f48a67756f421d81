package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("connection reset")

	assert.Equal(t, KindValidation, KindOf(Validation("bad")))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("lookup: %w", NotFound("missing"))))
	assert.Equal(t, KindDownstream, KindOf(cause))
	assert.Equal(t, KindDownstream, KindOf(Downstream("db", cause)))
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Authorization("denied"))

	assert.True(t, errors.Is(err, Authorization("")))
	assert.False(t, errors.Is(err, Authentication("")))

	cause := errors.New("boom")
	assert.ErrorIs(t, Downstream("db", cause), cause)
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "denied", MessageOf(Authorization("denied"), "fallback"))
	assert.Equal(t, "fallback", MessageOf(errors.New("raw"), "fallback"))
}
