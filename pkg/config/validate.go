package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks cfg's struct tags (validate:"...") and reports every
// violation found, not just the first (the teacher carries
// go-playground/validator/v10 in go.mod without exercising it directly;
// this is where the domain actually needs per-field config validation).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%d validation error(s): %v", len(msgs), msgs)
	}
	return nil
}
