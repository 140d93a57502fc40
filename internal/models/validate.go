package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a Request before it is accepted for routing: a known
// method, a well-formed URL, and one of the four defined priority levels.
func (r *Request) Validate() error {
	if r.Priority == 0 {
		r.Priority = PriorityNormal
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
