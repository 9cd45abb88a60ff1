package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = errors.New("location too short")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("location", func(fl validator.FieldLevel) bool {
		return strings.IndexFunc(fl.Field().String(), func(r rune) bool { return !isAllowedLocationRune(r) }) < 0
	}); err != nil {
		panic(err)
	}
	return v
}

// LocationInput is the body of POST /rpc/weather.clearCache.
type LocationInput struct {
	Location string `json:"location" validate:"required"`
}

// Validate checks the input and returns the trimmed location.
func (in LocationInput) Validate(minLen, maxLen int) (string, error) {
	in.Location = strings.TrimSpace(in.Location)
	if err := validate.Struct(in); err != nil {
		return "", ErrLocationEmpty
	}
	return ValidateLocation(in.Location, minLen, maxLen)
}

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes,
// 0 disables a bound) and restricts to letters, digits, space and , - . '
// so that "47.61,-122.33" and "Martha's Vineyard" pass. Returns the trimmed string.
// Normalization (e.g. lowercase) is left to the service layer.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrLocationEmpty
	}
	if err := validate.Var(s, locationTag(minLen, maxLen)); err != nil {
		return "", toSentinel(err)
	}
	return s, nil
}

func locationTag(minLen, maxLen int) string {
	tags := make([]string, 0, 3)
	if minLen > 0 {
		tags = append(tags, fmt.Sprintf("min=%d", minLen))
	}
	if maxLen > 0 {
		tags = append(tags, fmt.Sprintf("max=%d", maxLen))
	}
	return strings.Join(append(tags, "location"), ",")
}

func toSentinel(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	switch verrs[0].Tag() {
	case "min":
		return ErrLocationTooShort
	case "max":
		return ErrLocationTooLong
	default:
		return ErrLocationInvalidChars
	}
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
