package models

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// 17 chars, uppercase alphanumeric, I/O/Q excluded.
	vinRe = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)
	// Human-assigned, alphanumeric plus - and _.
	stockRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func ValidVIN(vin string) bool {
	return vinRe.MatchString(vin)
}

func ValidStockNumber(stock string) bool {
	return stockRe.MatchString(stock)
}

// NewValidator returns a validator with the vehicle-specific rules
// registered, for use on inbound request payloads.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("vin", func(fl validator.FieldLevel) bool {
		return ValidVIN(fl.Field().String())
	})
	_ = v.RegisterValidation("stocknum", func(fl validator.FieldLevel) bool {
		return ValidStockNumber(fl.Field().String())
	})
	_ = v.RegisterValidation("imagetype", func(fl validator.FieldLevel) bool {
		return ImageType(fl.Field().String()).Valid()
	})
	return v
}
