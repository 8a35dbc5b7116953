package common

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is a package-level singleton, mirroring the recommended usage of
// go-playground/validator: a *validator.Validate caches struct metadata and
// is meant to be reused, not constructed per call.
var validate = validator.New()

func init() {
	if err := validate.RegisterValidation("multipleof512", isMultipleOf512); err != nil {
		panic(err)
	}
}

// isMultipleOf512 backs the "multipleof512" tag used by btree.Config.PageSize:
// page sizes must land on a 512-byte boundary to match common disk sector
// and page-cache granularity.
func isMultipleOf512(fl validator.FieldLevel) bool {
	return fl.Field().Int()%512 == 0
}

// ValidateStruct checks cfg's `validate:"..."` tags and returns the first
// failing field in a short, human-readable form.
func ValidateStruct(cfg any) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return err
	}

	e := fieldErrs[0]
	switch e.Tag() {
	case "required":
		return fmt.Errorf("%s: field is required", e.Field())
	case "min":
		return fmt.Errorf("%s: must be at least %s", e.Field(), e.Param())
	case "max":
		return fmt.Errorf("%s: must not exceed %s", e.Field(), e.Param())
	case "multipleof512":
		return fmt.Errorf("%s: must be a multiple of 512", e.Field())
	default:
		return fmt.Errorf("%s: failed %s validation", e.Field(), e.Tag())
	}
}
