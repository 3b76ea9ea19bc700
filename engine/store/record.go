package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Record is the name/email/credential tuple persisted by a backend.
// Email is the identifying key.
type Record struct {
	Name       string `json:"name"       db:"name"`
	Email      string `json:"email"      db:"email"      validate:"required"`
	Credential string `json:"credential" db:"credential"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the record before it is handed to a backend.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("record is required")
	}
	if err := recordValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("field %s failed %q check", verrs[0].Field(), verrs[0].Tag())
		}
		return err
	}
	return nil
}
