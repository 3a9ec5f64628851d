package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePhone_ValidNumbers(t *testing.T) {
	validator := NewContactValidator()

	validNumbers := []struct {
		input    string
		expected string
		name     string
	}{
		{"+14155550123", "+14155550123", "US E.164"},
		{"+1 415 555 0123", "+14155550123", "With spaces"},
		{"+1-415-555-0123", "+14155550123", "With dashes"},
		{"+94 (77) 123 4567", "+94771234567", "With parentheses"},
		{"0044 20 7946 0958", "+442079460958", "00 prefix"},
		{"+44.20.7946.0958", "+442079460958", "With dots"},
	}

	for _, tc := range validNumbers {
		t.Run(tc.name, func(t *testing.T) {
			sanitized, err := validator.ValidatePhone(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, sanitized)
		})
	}
}

func TestValidatePhone_InvalidNumbers(t *testing.T) {
	validator := NewContactValidator()

	invalidNumbers := []struct {
		input    string
		expected error
		name     string
	}{
		{"", ErrEmptyPhone, "Empty"},
		{"   ", ErrEmptyPhone, "Whitespace"},
		{"0771234567", ErrMissingCountryCode, "National format"},
		{"+0771234567", ErrMissingCountryCode, "Leading zero after plus"},
		{"+1415abc0123", ErrInvalidFormat, "Letters"},
		{"+1234567", ErrInvalidLength, "Too short"},
		{"+1234567890123456", ErrInvalidLength, "Too long"},
	}

	for _, tc := range invalidNumbers {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validator.ValidatePhone(tc.input)
			assert.ErrorIs(t, err, tc.expected)
			assert.False(t, validator.IsValidPhone(tc.input))
		})
	}
}

func TestValidateEmail(t *testing.T) {
	validator := NewContactValidator()

	tests := []struct {
		name     string
		input    string
		expected string
		err      error
	}{
		{"Plain", "ada@example.com", "ada@example.com", nil},
		{"Mixed case", "Ada@Example.COM", "ada@example.com", nil},
		{"Trimmed", "  ada@example.com ", "ada@example.com", nil},
		{"Empty", "", "", ErrEmptyEmail},
		{"Display name", "Ada <ada@example.com>", "", ErrInvalidEmail},
		{"No domain dot", "ada@localhost", "", ErrInvalidEmail},
		{"Missing at", "ada.example.com", "", ErrInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validator.ValidateEmail(tt.input)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestValidateContact(t *testing.T) {
	validator := NewContactValidator()

	t.Run("Phone optional", func(t *testing.T) {
		c, field, err := validator.ValidateContact("Ada Lovelace", "ada@example.com", "")
		require.NoError(t, err)
		assert.Empty(t, field)
		assert.Equal(t, "Ada Lovelace", c.Name)
		assert.Empty(t, c.Phone)
	})

	t.Run("Reports failing field", func(t *testing.T) {
		_, field, err := validator.ValidateContact("Ada", "ada@example.com", "12")
		assert.Error(t, err)
		assert.Equal(t, "phone", field)

		_, field, err = validator.ValidateContact("", "ada@example.com", "")
		assert.ErrorIs(t, err, ErrEmptyName)
		assert.Equal(t, "name", field)
	})
}
