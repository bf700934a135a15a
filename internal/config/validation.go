package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs struct-tag validation followed by rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Locks.MaxTimeout < cfg.Locks.DefaultTimeout {
		return fmt.Errorf("locks: max_timeout (%s) must not be below default_timeout (%s)",
			cfg.Locks.MaxTimeout, cfg.Locks.DefaultTimeout)
	}
	if cfg.Auth.Basic && cfg.Auth.TokenURL == "" {
		return fmt.Errorf("auth: token_url is required when basic is enabled")
	}
	if cfg.Backend.Type == "rest" {
		if u, _ := cfg.Backend.Rest["base_url"].(string); u == "" {
			return fmt.Errorf("backend.rest: base_url is required")
		}
	}
	if cfg.Reconcile.Type == "dynamodb" {
		if t, _ := cfg.Reconcile.DynamoDB["table"].(string); t == "" {
			return fmt.Errorf("reconcile.dynamodb: table is required")
		}
	}
	if cfg.Server.Prefix != "" && !strings.HasPrefix(cfg.Server.Prefix, "/") {
		return fmt.Errorf("server: prefix %q must start with /", cfg.Server.Prefix)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
