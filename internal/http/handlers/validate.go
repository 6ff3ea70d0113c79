package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var nicknameRe = regexp.MustCompile(`^[가-힣a-zA-Z0-9]{2,12}$`)

const passwordSpecials = `!@#$%^&*(),.?":{}|<>`

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return isStrongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("nickname", func(fl validator.FieldLevel) bool {
		return nicknameRe.MatchString(fl.Field().String())
	})

	return v
}

// isStrongPassword is the signup password rule: 8 runes or more, mixing ASCII
// letters, digits and passwordSpecials.
func isStrongPassword(s string) bool {
	if len([]rune(s)) < 8 {
		return false
	}

	var letter, digit, special bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) && r < unicode.MaxASCII:
			letter = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	return letter && digit && special
}

// validationMessage turns the first failed rule into a client facing message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	fe := verrs[0]
	field := fe.Field()

	switch fe.Tag() {
	case "required":
		if fe.Kind() == reflect.Bool {
			return fmt.Sprintf("field '%s' must be agreed", field)
		}
		return fmt.Sprintf("field '%s' is required", field)
	case "email":
		return fmt.Sprintf("field '%s' must be a valid email address", field)
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s characters long", field, fe.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s characters long", field, fe.Param())
	case "len":
		return fmt.Sprintf("field '%s' must be exactly %s characters long", field, fe.Param())
	case "numeric":
		return fmt.Sprintf("field '%s' must contain digits only", field)
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of [%s]", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("field '%s' must be a date in YYYY-MM-DD format", field)
	case "password":
		return fmt.Sprintf("field '%s' must be at least 8 characters and include a letter, a digit and a special character", field)
	case "nickname":
		return fmt.Sprintf("field '%s' must be 2 to 12 letters or digits", field)
	default:
		return fmt.Sprintf("field '%s' validation failed on tag '%s'", field, fe.Tag())
	}
}
