package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Read reads a planning configuration from the given file. Environment variables referenced as
// ${NAME} are substituted before parsing.
func Read(filePath string) (PlanningConfig, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return PlanningConfig{}, err
	}

	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a planning configuration from the given reader and specifies
// where, if applicable, the file the reader originated from. Fields absent from the input keep
// their default values.
func FromReader(originalPath string, r io.Reader) (PlanningConfig, error) {
	var attributes map[string]interface{}
	if err := json.NewDecoder(r).Decode(&attributes); err != nil {
		return PlanningConfig{}, errors.Wrapf(err, "cannot unmarshal config from %q", originalPath)
	}

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &cfg,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return PlanningConfig{}, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return PlanningConfig{}, errors.Wrapf(err, "cannot decode config from %q", originalPath)
	}

	if err := cfg.Validate(); err != nil {
		return PlanningConfig{}, err
	}
	return cfg, nil
}
