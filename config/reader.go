// Package config loads gripper connection settings from JSON or YAML files.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/robotiqur/robotiqur/gripper"
	"github.com/robotiqur/robotiqur/logging"
)

// Read reads a gripper config from the given file. ${VAR} references are replaced from the
// environment before parsing. Files ending in .yaml or .yml are parsed as YAML, anything else as
// JSON.
func Read(ctx context.Context, filePath string, logger logging.Logger) (*gripper.Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", filePath)
	}
	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from r. originalPath only selects the format and labels errors.
func FromReader(ctx context.Context, originalPath string, r io.Reader, logger logging.Logger) (*gripper.Config, error) {
	attrs, err := parseAttributes(originalPath, r)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(attrs, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode config %q", originalPath)
	}
	withDefaults := cfg.WithDefaults()
	if err := withDefaults.Validate("gripper"); err != nil {
		return nil, err
	}
	logger.CDebugw(ctx, "loaded config", "path", originalPath, "host", withDefaults.Host, "port", withDefaults.Port)
	return &withDefaults, nil
}

// AttributeMap is the raw key/value form of a config file.
type AttributeMap map[string]interface{}

func parseAttributes(originalPath string, r io.Reader) (AttributeMap, error) {
	attrs := AttributeMap{}
	switch strings.ToLower(filepath.Ext(originalPath)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(r).Decode(&attrs); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(err, "cannot parse YAML config %q", originalPath)
		}
	default:
		if err := json.NewDecoder(r).Decode(&attrs); err != nil {
			return nil, errors.Wrapf(err, "cannot parse JSON config %q", originalPath)
		}
	}
	return attrs, nil
}

func decode(attrs AttributeMap, logger logging.Logger) (gripper.Config, error) {
	var cfg gripper.Config
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     &cfg,
		Metadata:   &md,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return gripper.Config{}, err
	}
	if err := decoder.Decode(map[string]interface{}(attrs)); err != nil {
		return gripper.Config{}, err
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		logger.Warnw("ignoring unknown config fields", "fields", md.Unused)
	}
	return cfg, nil
}
