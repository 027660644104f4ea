package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRequest struct {
	Model       string  `json:"model" validate:"required"`
	Strategy    string  `json:"strategy" validate:"omitempty,oneof=round_robin random"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	Secret      string  `json:"-" validate:"required"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		s := testRequest{Model: "llama3", Strategy: "random", Temperature: 0.7, Secret: "x"}
		assert.NoError(t, ValidateStruct(&s))
	})

	tests := []struct {
		name  string
		req   testRequest
		field string
		msg   string
	}{
		{"missing required field", testRequest{Secret: "x"}, "model", "model is required"},
		{"oneof", testRequest{Model: "m", Strategy: "weighted", Secret: "x"}, "strategy", "strategy must be one of: round_robin random"},
		{"out of range", testRequest{Model: "m", Temperature: 3, Secret: "x"}, "temperature", "temperature must be less than or equal to 2"},
		{"hidden json name falls back to Go name", testRequest{Model: "m"}, "Secret", "Secret is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			fields := GetValidationFields(err)
			assert.Equal(t, tt.msg, fields[tt.field])
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "Validation failed", (&ValidationError{Message: "Validation failed"}).Error())

	err := &ValidationError{
		Message: "Validation failed",
		Fields: map[string]string{
			"b": "b is required",
			"a": "a is required",
		},
	}
	assert.Equal(t, "Validation failed: a is required; b is required", err.Error())
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{Message: "test"}))
	assert.False(t, IsValidationError(assert.AnError))
}

func TestGetValidationFields(t *testing.T) {
	fields := map[string]string{"field1": "error1"}
	assert.Equal(t, fields, GetValidationFields(&ValidationError{Message: "test", Fields: fields}))
	assert.Nil(t, GetValidationFields(assert.AnError))
}
