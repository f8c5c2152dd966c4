package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/diagnosis/wanderlust/internal/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator exposes the shared instance so request payloads are checked with the
// same rules as stored documents.
func Validator() *validator.Validate { return validate }

// ValidateName trims name and rejects it when empty.
func ValidateName(name string) (string, error) {
	name = utils.NormalizeString(name)
	if name == "" {
		return "", fmt.Errorf("%w: holiday name is required", ErrValidation)
	}
	return name, nil
}

// ValidateEmail normalizes an address to lower case and checks its shape.
func ValidateEmail(email string) (string, error) {
	email = utils.NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrValidation)
	}
	if !utils.IsValidEmail(email) {
		return "", fmt.Errorf("%w: invalid email %q", ErrValidation, email)
	}
	return email, nil
}

// NormalizeItems trims free-text fields and validates every item. Item ids must be
// unique within the list. A nil list is returned as an empty one.
func NormalizeItems(items []ItineraryItem) ([]ItineraryItem, error) {
	out := make([]ItineraryItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		it.Date = strings.TrimSpace(it.Date)
		it.Time = strings.TrimSpace(it.Time)
		it.Activity = utils.NormalizeString(it.Activity)
		it.Location = utils.NormalizeString(it.Location)
		it.Notes = utils.NormalizeString(it.Notes)
		if err := validate.Struct(it); err != nil {
			return nil, fmt.Errorf("%w: item %d: %s", ErrValidation, i, describe(err))
		}
		if _, dup := seen[it.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate item id %q", ErrValidation, it.ID)
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out, nil
}

// FieldErrors flattens validator errors into field -> failed tag.
func FieldErrors(err error) map[string]string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

func describe(err error) string {
	fields := FieldErrors(err)
	if len(fields) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(fields))
	for f, tag := range fields {
		parts = append(parts, f+" "+tag)
	}
	return strings.Join(parts, ", ")
}
