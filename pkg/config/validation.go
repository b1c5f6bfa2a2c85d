package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/hostd/internal/telemetry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags, then the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}

	if err := cfg.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if cfg.Telemetry.Profiling.Enabled {
		if _, err := telemetry.ParseProfileTypes(cfg.Telemetry.Profiling.ProfileTypes); err != nil {
			return fmt.Errorf("telemetry.profiling: %w", err)
		}
	}
	return nil
}
