// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/stagerunner/internal/stagecred"
)

// Config aggregates configuration for the application.
type Config struct {
	Stage  StageConfig  `mapstructure:"stage"`
	Upload UploadConfig `mapstructure:"upload"`
}

// StageConfig locates the control plane and tunes the credential cache.
type StageConfig struct {
	Scheme string `mapstructure:"scheme"`
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`

	// RequestTimeout limits one configure round-trip.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// FreshnessThreshold is how long cached credentials are reused before
	// an ordinary access refreshes them.
	FreshnessThreshold time.Duration `mapstructure:"freshness_threshold"`

	// MaxRetries is the number of upload retries after a forced
	// credential refresh.
	MaxRetries int `mapstructure:"max_retries"`
}

// Endpoint converts the stage section into a control-plane endpoint.
func (s StageConfig) Endpoint() stagecred.Endpoint {
	return stagecred.Endpoint{
		Scheme: s.Scheme,
		Host:   s.Host,
		Port:   s.Port,
	}
}

// UploadConfig selects and tunes the transfer backend.
type UploadConfig struct {
	// Backend is "http" (presigned URL) or "s3" (direct stage upload).
	Backend string `mapstructure:"backend"`

	// S3Endpoint forces a custom S3 endpoint (eg MinIO), empty for AWS.
	S3Endpoint string `mapstructure:"s3_endpoint"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Stage: StageConfig{
			Scheme:             "https",
			Port:               443,
			RequestTimeout:     stagecred.DefaultRequestTimeout,
			FreshnessThreshold: stagecred.DefaultFreshnessThreshold,
			MaxRetries:         1,
		},
		Upload: UploadConfig{
			Backend: "http",
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "STAGERUNNER" and the dot character
// in keys is replaced by an underscore. For example, "stage.host" becomes
// "STAGERUNNER_STAGE_HOST".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("STAGERUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects malformed configuration before any network call.
func (c *Config) Validate() error {
	if err := c.Stage.Endpoint().Validate(); err != nil {
		return err
	}
	if c.Stage.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries %d must be non-negative", stagecred.ErrConfiguration, c.Stage.MaxRetries)
	}
	switch c.Upload.Backend {
	case "http", "s3":
	default:
		return fmt.Errorf("%w: upload backend %q must be http or s3", stagecred.ErrConfiguration, c.Upload.Backend)
	}
	return nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
