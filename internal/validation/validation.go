// Package validation configures the shared struct validator and its domain rules.
package validation

import (
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"legjenda/app/internal/apperr"
)

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// New returns a validator that reports json field names and knows the "slug" rule.
func New() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	// Registration only fails for empty tags or nil funcs.
	_ = validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return IsSlug(fl.Field().String())
	})

	return validate
}

// Struct validates s and converts failures into a validation error naming the first field.
func Struct(validate *validator.Validate, s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return apperr.Validation("invalid input: %v", err)
	}

	return apperr.Validation("%s", describe(fieldErrs[0]))
}

// Email reports whether value is a syntactically valid address.
func Email(validate *validator.Validate, value string) bool {
	return validate.Var(value, "required,email") == nil
}

// IsSlug reports whether value is a lowercase, dash separated slug.
func IsSlug(value string) bool {
	return slugRegex.MatchString(value)
}

// Slugify folds diacritics and collapses every non alphanumeric run into one dash, so
// "Historitë Tuaja" becomes "historite-tuaja".
func Slugify(value string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), value)
	if err != nil {
		folded = value
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}

	return b.String()
}

func describe(fieldErr validator.FieldError) string {
	field := fieldErr.Field()
	switch fieldErr.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " must be at most " + fieldErr.Param() + " characters"
	case "min":
		return field + " must be at least " + fieldErr.Param() + " characters"
	case "email":
		return field + " must be a valid email address"
	case "slug":
		return field + " must contain lowercase letters, digits and single dashes"
	case "uuid", "uuid4":
		return field + " must be a valid identifier"
	case "oneof":
		return field + " must be one of " + fieldErr.Param()
	default:
		return field + " is invalid"
	}
}
