package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/edgard/bothost/internal/errs"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tag rules and the cross-field constraints that
// tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Config("configuration validation failed", err)
	}

	if strings.Count(c.Messages.PingResultFmt, "%d") != 1 {
		return errs.Config("messages.ping_result_fmt must contain exactly one %d verb", nil)
	}

	seen := make(map[string]struct{}, len(c.Bots))
	for i, b := range c.Bots {
		if _, dup := seen[b.Name]; dup {
			return errs.Config(fmt.Sprintf("bots[%d]: duplicate bot name %q", i, b.Name), nil)
		}
		seen[b.Name] = struct{}{}
		for trigger, source := range b.Commands {
			if len(source) > c.Sandbox.MaxSourceLength {
				return errs.Config(fmt.Sprintf("bots[%d]: command %q exceeds sandbox.max_source_length", i, trigger), nil)
			}
		}
	}

	return nil
}
