package validation

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/vinodismyname/datasavant/internal/dataset"
	"github.com/vinodismyname/datasavant/pkg/pagination"
)

var (
	v    *validator.Validate
	once sync.Once
)

// Validator returns a singleton validator with custom rules registered.
func Validator() *validator.Validate {
	once.Do(func() {
		v = validator.New()
		// Custom: dataset path must carry a loadable extension
		_ = v.RegisterValidation("dataset_ext", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return false
			}
			ext := strings.ToLower(filepath.Ext(s))
			for _, allowed := range dataset.SupportedExtensions() {
				if ext == allowed {
					return true
				}
			}
			return false
		})
		// Custom: cursor must be decodable via pagination.DecodeCursor
		_ = v.RegisterValidation("cursor", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return true // empty is allowed; use omitempty with this tag
			}
			if _, err := base64.RawURLEncoding.DecodeString(s); err != nil {
				return false
			}
			_, err := pagination.DecodeCursor(s)
			return err == nil
		})
		// Custom: text must contain something other than whitespace
		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	})
	return v
}

// ValidateStruct validates a struct and returns a user-friendly error string
// suitable for MCP tool errors. Returns empty string when valid.
func ValidateStruct(s any) string {
	if err := Validator().Struct(s); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			fe := ve[0]
			field := strings.ToLower(fe.Field())
			switch fe.Tag() {
			case "required", "notblank":
				return fmt.Sprintf("VALIDATION: %s is required", field)
			case "required_without":
				return fmt.Sprintf("VALIDATION: %s is required (or supply cursor)", field)
			case "dataset_ext":
				return fmt.Sprintf("VALIDATION: path must be a dataset file (%s)", strings.Join(dataset.SupportedExtensions(), ", "))
			case "cursor":
				return "CURSOR_INVALID: failed to decode cursor; restart pagination without a cursor"
			case "uuid", "uuid4":
				return fmt.Sprintf("VALIDATION: %s must be a dataset id returned by open_dataset", field)
			case "min", "max", "gte", "lte", "gt", "lt":
				return fmt.Sprintf("VALIDATION: %s must satisfy %s=%s", field, fe.Tag(), fe.Param())
			}
			return fmt.Sprintf("VALIDATION: invalid %s", field)
		}
		return "VALIDATION: invalid inputs"
	}
	return ""
}
