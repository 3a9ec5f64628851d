package validator

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits and a leading +")

	// ErrInvalidLength indicates the number is outside the E.164 length range
	ErrInvalidLength = errors.New("phone number must have 8 to 15 digits including country code")

	// ErrMissingCountryCode indicates a national number without international prefix
	ErrMissingCountryCode = errors.New("phone number must include a country code")

	// ErrEmptyEmail indicates email is empty
	ErrEmptyEmail = errors.New("email cannot be empty")

	// ErrInvalidEmail indicates the email is not a bare address
	ErrInvalidEmail = errors.New("email is not a valid address")

	// ErrEmptyName indicates the buyer name is empty
	ErrEmptyName = errors.New("name cannot be empty")
)

var digitsRegex = regexp.MustCompile(`^\d+$`)

// ContactValidator validates how a buyer can be reached
type ContactValidator struct{}

// NewContactValidator creates a new contact validator instance
func NewContactValidator() *ContactValidator {
	return &ContactValidator{}
}

// ValidatePhone validates an international number.
// Accepts +14155550123, 0044 20 7946 0958, +94 (77) 123-4567.
// Returns the E.164 form (+ and digits).
func (v *ContactValidator) ValidatePhone(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.SanitizePhone(phone)
	if !strings.HasPrefix(sanitized, "+") {
		return "", ErrMissingCountryCode
	}

	digits := sanitized[1:]
	if !digitsRegex.MatchString(digits) {
		return "", ErrInvalidFormat
	}
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidLength
	}
	if digits[0] == '0' {
		return "", ErrMissingCountryCode
	}

	return sanitized, nil
}

// SanitizePhone removes separators and turns a 00 international prefix into +
func (v *ContactValidator) SanitizePhone(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	phone = replacer.Replace(strings.TrimSpace(phone))

	if strings.HasPrefix(phone, "00") {
		phone = "+" + phone[2:]
	}
	return phone
}

// ValidateEmail validates a bare address and returns it lower-cased
func (v *ContactValidator) ValidateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmptyEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

// Contact is the normalized form of a buyer contact
type Contact struct {
	Name  string
	Email string
	Phone string
}

// ValidateContact checks name and email, and phone when given.
// The error names the first invalid field.
func (v *ContactValidator) ValidateContact(name, email, phone string) (*Contact, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "name", ErrEmptyName
	}

	normalizedEmail, err := v.ValidateEmail(email)
	if err != nil {
		return nil, "email", err
	}

	c := &Contact{Name: name, Email: normalizedEmail}
	if strings.TrimSpace(phone) != "" {
		normalizedPhone, err := v.ValidatePhone(phone)
		if err != nil {
			return nil, "phone", err
		}
		c.Phone = normalizedPhone
	}
	return c, "", nil
}

// IsValidPhone is a convenience method that returns true if phone is valid
func (v *ContactValidator) IsValidPhone(phone string) bool {
	_, err := v.ValidatePhone(phone)
	return err == nil
}
