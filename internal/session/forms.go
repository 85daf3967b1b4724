package session

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CredentialsForm is the login and register form.
type CredentialsForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// VerifyForm is the one-time-code form.
type VerifyForm struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

// Validate checks the form before it reaches the backend.
func (f CredentialsForm) Validate() error {
	return validateForm(f)
}

// Validate checks the form before it reaches the backend.
func (f VerifyForm) Validate() error {
	return validateForm(f)
}

func validateForm(form interface{}) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	first := verrs[0]
	switch first.Tag() {
	case "required":
		return fmt.Errorf("%s is required", first.Field())
	case "email":
		return fmt.Errorf("%s must be a valid email address", first.Field())
	case "len", "numeric":
		return fmt.Errorf("%s must be a 6-digit code", first.Field())
	default:
		return fmt.Errorf("%s is invalid", first.Field())
	}
}
