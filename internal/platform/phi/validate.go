package phi

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9 ().\-]{7,20}$`)

// PatientInput is the inbound shape of a patient create or update.
type PatientInput struct {
	FirstName   string `json:"first_name" validate:"required,max=100,noscript"`
	LastName    string `json:"last_name" validate:"required,max=100,noscript"`
	DateOfBirth string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	MRN         string `json:"mrn" validate:"required,alphanum,max=32"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"omitempty,phone"`
	SSN         string `json:"ssn" validate:"omitempty,ssn"`
	Gender      string `json:"gender" validate:"omitempty,oneof=male female other unknown"`
	Address     string `json:"address" validate:"omitempty,max=500,noscript"`
	Notes       string `json:"notes" validate:"omitempty,max=4000,noscript"`
}

// FieldError is one rejected field. Message is already scrubbed.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator checks structured input and produces client-safe messages.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("noscript", func(fl validator.FieldLevel) bool {
		return !ContainsScriptInjection(fl.Field().String())
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return phonePattern.MatchString(s) && countDigits(s) >= 7
	})
	return &Validator{v: v}
}

// ValidatePatient returns nil when in is acceptable.
func (v *Validator) ValidatePatient(in PatientInput) []FieldError {
	return v.Struct(in)
}

// Struct validates any tagged struct. Messages may quote the rejected value,
// so each one is passed through ScrubMessage.
func (v *Validator) Struct(s any) []FieldError {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "", Message: "invalid input"}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Message: ScrubMessage(describe(fe)),
		})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%s is not a valid email address", fe.Field())
	case "phone":
		return fmt.Sprintf("%s is not a valid phone number", fe.Field())
	case "ssn":
		return fmt.Sprintf("%s is not a valid SSN", fe.Field())
	case "datetime":
		return fmt.Sprintf("%s must be a date in %s format", fe.Field(), fe.Param())
	case "alphanum":
		return fmt.Sprintf("%s must be alphanumeric", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "noscript":
		return fmt.Sprintf("%s contains disallowed markup", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
