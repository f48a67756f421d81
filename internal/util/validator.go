package util

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their JSON name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidationError lists the failing fields of a payload.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidateStruct checks the `validate` tags of s.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	return newValidationError(errs)
}

func newValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string, len(errs))
	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		msg := fieldMessage(fe)
		fields[fe.Field()] = msg
		messages = append(messages, msg)
	}
	return &ValidationError{Message: strings.Join(messages, " "), Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s 항목은 필수입니다.", field)
	case "email":
		return fmt.Sprintf("%s 형식이 올바르지 않습니다.", field)
	case "uuid":
		return fmt.Sprintf("%s 는 UUID 형식이어야 합니다.", field)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s 는 최소 %s자 이상이어야 합니다.", field, fe.Param())
		}
		return fmt.Sprintf("%s 는 %s 이상이어야 합니다.", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s 는 최대 %s자까지 가능합니다.", field, fe.Param())
		}
		return fmt.Sprintf("%s 는 %s 이하여야 합니다.", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s 는 다음 중 하나여야 합니다: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s 값이 올바르지 않습니다.", field)
	}
}

// IsValidationError reports whether err came from ValidateStruct.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
