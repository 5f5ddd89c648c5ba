package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error kinds. Handlers map them to HTTP statuses with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrStorage      = errors.New("storage unavailable")
)

// Error is a service failure with a client-safe message.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

var (
	ErrCredentialsRequired = &Error{Kind: ErrValidation, Message: "Email and password required"}
	ErrEmailTaken          = &Error{Kind: ErrConflict, Message: "Email already in use"}
	// ErrInvalidCredentials is deliberately the same for an unknown email and
	// a wrong password.
	ErrInvalidCredentials = &Error{Kind: ErrUnauthorized, Message: "Invalid credentials"}
	ErrUserGone           = &Error{Kind: ErrUnauthorized, Message: "unauthorized"}
	ErrActionRequired     = &Error{Kind: ErrValidation, Message: "action is required"}
)

// PublicMessage returns the text safe to show a client for err. Storage and
// unknown failures collapse to a generic message.
func PublicMessage(err error) string {
	var se *Error
	if errors.As(err, &se) && !errors.Is(se.Kind, ErrStorage) {
		return se.Message
	}
	return "internal server error"
}

func validationError(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func storageError(err error) error {
	return &Error{Kind: ErrStorage, Message: "storage unavailable", Err: err}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the struct's validate tags and reports the first
// failing field as a validation error.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return validationError("invalid payload")
	}

	fe := verrs[0]
	return validationError(fe.Field() + " " + describeFieldError(fe))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "max":
		return "must be at most " + fe.Param() + " characters long"
	case "min":
		return "must be at least " + fe.Param() + " characters long"
	default:
		return "is invalid"
	}
}
