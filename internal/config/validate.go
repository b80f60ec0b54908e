package config

import (
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the validator instance for config structs.
// Initialized in init() with custom validators.
var validate *validator.Validate

var sqlIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("duration", validateDuration)
	_ = validate.RegisterValidation("sqlident", validateSQLIdent)
}

// validateDuration accepts strings time.ParseDuration understands.
func validateDuration(fl validator.FieldLevel) bool {
	_, err := time.ParseDuration(fl.Field().String())
	return err == nil
}

func validateSQLIdent(fl validator.FieldLevel) bool {
	return sqlIdent.MatchString(fl.Field().String())
}
