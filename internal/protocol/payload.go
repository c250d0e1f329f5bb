package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/and161185/grouptalk/internal/errs"
)

// Credentials is a "name:secret" pair carried in content.
type Credentials struct {
	Name   string `validate:"required,max=64"`
	Secret string `validate:"max=128"`
}

// GroupCredentials names a group and its optional password.
type GroupCredentials struct {
	Name   string `validate:"required,max=64,nospace"`
	Secret string `validate:"max=128"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("nospace", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsSpace)
	})
	return v
}

// splitPair splits on the first ':'; the secret may itself contain ':'.
func splitPair(content string) (string, string, bool) {
	name, secret, ok := strings.Cut(content, ":")
	return strings.TrimSpace(name), secret, ok
}

// ParseCredentials parses LOGIN/REGISTER content. The separator is mandatory.
func ParseCredentials(content string) (Credentials, error) {
	name, secret, ok := splitPair(content)
	if !ok {
		return Credentials{}, fmt.Errorf("%w: expected name:password", errs.ErrInvalidInput)
	}
	c := Credentials{Name: name, Secret: secret}
	if err := validate.Struct(c); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	return c, nil
}

// ParseGroupCredentials parses CREATE_GROUP/JOIN_GROUP content. A missing
// separator or empty secret means "no password".
func ParseGroupCredentials(content string) (GroupCredentials, error) {
	name, secret, _ := splitPair(content)
	c := GroupCredentials{Name: name, Secret: secret}
	if err := validate.Struct(c); err != nil {
		return GroupCredentials{}, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	return c, nil
}

// ParseHours parses the GET_HISTORY window. Empty content means def.
func ParseHours(content string, def int) (int, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return def, nil
	}
	h, err := strconv.Atoi(content)
	if err != nil || h <= 0 {
		return 0, fmt.Errorf("%w: invalid hours format", errs.ErrInvalidInput)
	}
	return h, nil
}
