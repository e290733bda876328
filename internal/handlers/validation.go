package handlers

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"contactlink/internal/models"

	"github.com/go-playground/validator/v10"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{3,20}$`)

// validate is shared by all handlers. Custom tags are registered in init.
var validate *validator.Validate

func init() {
	validate = validator.New()
	if err := validate.RegisterValidation("phone", validatePhone); err != nil {
		panic(fmt.Sprintf("register phone validation: %v", err))
	}
}

// validatePhone accepts digits with an optional leading plus, as produced by
// normalizePhone.
func validatePhone(fl validator.FieldLevel) bool {
	return phonePattern.MatchString(fl.Field().String())
}

// normalizeEmail lowercases and trims an email address.
func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizePhone drops common separators and keeps a single leading plus.
// Other characters are kept so validation rejects them.
func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeRequest rewrites the request in place. Blank values become nil.
func normalizeRequest(req *models.IdentifyRequest) {
	if req.Email != nil {
		e := normalizeEmail(*req.Email)
		req.Email = &e
		if e == "" {
			req.Email = nil
		}
	}
	if req.PhoneNumber != nil {
		p := models.PhoneInput(normalizePhone(string(*req.PhoneNumber)))
		req.PhoneNumber = &p
		if p == "" {
			req.PhoneNumber = nil
		}
	}
}

// validateRequest normalizes and checks an identify request.
func validateRequest(req *models.IdentifyRequest) error {
	normalizeRequest(req)
	if req.Email == nil && req.PhoneNumber == nil {
		return errors.New("either email or phoneNumber must be provided")
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid %s", fieldName(verrs[0].Field()))
		}
		return err
	}
	return nil
}

func fieldName(f string) string {
	switch f {
	case "Email":
		return "email"
	case "PhoneNumber":
		return "phoneNumber"
	default:
		return f
	}
}
