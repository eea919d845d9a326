// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/punchsync/punchsync/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags plus the cross-field rules the tags cannot
// express. Errors are models.ConfigError so main can distinguish the fatal
// startup class from everything else.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return &models.ConfigError{
				Field: first.Namespace(),
				Msg:   fmt.Sprintf("failed %q constraint", first.Tag()),
			}
		}
		return &models.ConfigError{Field: "config", Msg: err.Error()}
	}

	if c.Sync.MinInterval <= 0 {
		return &models.ConfigError{Field: "sync.min_interval", Msg: "must be positive"}
	}
	if c.Sync.MaxInterval < c.Sync.MinInterval {
		return &models.ConfigError{Field: "sync.max_interval", Msg: "must be >= sync.min_interval"}
	}
	if c.Sync.BaseInterval < c.Sync.MinInterval || c.Sync.BaseInterval > c.Sync.MaxInterval {
		return &models.ConfigError{
			Field: "sync.base_interval",
			Msg:   "must lie within [sync.min_interval, sync.max_interval]",
		}
	}

	if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
		return &models.ConfigError{Field: "sync.timezone", Msg: fmt.Sprintf("unknown location: %v", err)}
	}

	if c.Source.RetryBaseDelay <= 0 {
		return &models.ConfigError{Field: "source.retry_base_delay", Msg: "must be positive"}
	}
	if c.Source.RetryMaxDelay < c.Source.RetryBaseDelay {
		return &models.ConfigError{Field: "source.retry_max_delay", Msg: "must be >= source.retry_base_delay"}
	}

	return nil
}

// Location returns the configured IANA location. Validate has already proven
// it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
