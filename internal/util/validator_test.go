package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signUp struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=6"`
	Role     string  `json:"role" validate:"required,oneof=admin counselor"`
	Phone    *string `json:"phone,omitempty" validate:"omitempty,max=20"`
}

func TestValidateStructPasses(t *testing.T) {
	err := ValidateStruct(signUp{Email: "kim@example.com", Password: "secret1", Role: "counselor"})
	assert.NoError(t, err)
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(signUp{Email: "nope", Password: "12345", Role: "owner"})
	require.Error(t, err)
	require.True(t, IsValidationError(err))

	ve := err.(*ValidationError)
	assert.Len(t, ve.Fields, 3)
	assert.Contains(t, ve.Fields, "email")
	assert.Contains(t, ve.Fields["password"], "6")
	assert.Contains(t, ve.Fields["role"], "admin counselor")
}

func TestValidateStructOptionalPointer(t *testing.T) {
	long := "010-1234-5678-9999-0000"
	err := ValidateStruct(signUp{Email: "kim@example.com", Password: "secret1", Role: "admin", Phone: &long})
	require.Error(t, err)
	assert.Contains(t, err.(*ValidationError).Fields, "phone")
}
