package constants

import "github.com/go-playground/validator/v10"

// Validate is the shared struct validator. It is safe for concurrent use.
var Validate = validator.New(validator.WithRequiredStructEnabled())
