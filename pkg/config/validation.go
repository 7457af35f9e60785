package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/nfsd/pkg/share"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Shares) == 0 {
		return fmt.Errorf("shares: at least one share must be configured")
	}

	names := make(map[string]bool)
	for i, s := range cfg.Shares {
		if names[s.Name] {
			return fmt.Errorf("shares[%d]: duplicate share name %q", i, s.Name)
		}
		names[s.Name] = true

		for field, list := range map[string][]string{
			"allowed_clients":   s.AllowedClients,
			"denied_clients":    s.DeniedClients,
			"read_only_clients": s.ReadOnlyClients,
		} {
			if err := share.ValidateClientList(list); err != nil {
				return fmt.Errorf("shares[%d].%s: %w", i, field, err)
			}
		}
	}

	if cfg.Portmap.Enabled && cfg.Portmap.Port == cfg.NFS.Port {
		return fmt.Errorf("portmap: port %d is already used by nfs", cfg.Portmap.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
