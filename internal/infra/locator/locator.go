// Package locator resolves caller display labels from carrier metadata.
package locator

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/shahabrez/Callroulette/internal/domain/call"
	"github.com/shahabrez/Callroulette/internal/infra/config"
)

// Locator resolves a session to a caller display label. Lookup failures
// are recovered locally with a generic label; Label never fails.
type Locator interface {
	Label(s *call.Session) string
}

// Settings configures the caller_metadata locator.
type Settings struct {
	UnknownLabel string `mapstructure:"unknown_label" default:"An Unknown Caller" validate:"required"`
	// Regions maps region abbreviations to full names, e.g. "CA" to
	// "California". Unmapped abbreviations are shown as-is.
	Regions map[string]string `mapstructure:"regions"`
}

// CallerMetadata labels callers from the city/region fields the carrier
// reports with the webhook.
type CallerMetadata struct {
	settings Settings
}

// NewFromConfig creates the configured locator.
func NewFromConfig(cfg config.LocatorConfig) (Locator, error) {
	if cfg.Type != "" && cfg.Type != "caller_metadata" {
		return nil, errors.Newf("unknown locator type %q", cfg.Type)
	}

	var settings Settings
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &settings,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(cfg.Settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&settings); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(settings); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &CallerMetadata{settings: settings}, nil
}

// Label returns "Someone in City, Region" when the carrier reported
// both, and the unknown-caller fallback otherwise.
func (l *CallerMetadata) Label(s *call.Session) string {
	if s.City == "" || s.Region == "" {
		return l.settings.UnknownLabel
	}

	region := s.Region
	if full, ok := l.settings.Regions[strings.ToUpper(region)]; ok {
		region = full
	}
	return fmt.Sprintf("Someone in %s, %s", capitalize(s.City), region)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
