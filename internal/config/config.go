// Package config loads registryd settings from AGENTREGISTRY_* environment
// variables.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"

	"agentregistry/internal/blob"
	"agentregistry/internal/core"
	"agentregistry/pkg/domain"
)

// Prefix is prepended to every variable name.
const Prefix = "AGENTREGISTRY_"

// Config holds the registry settings. Process concerns such as the listen
// address are command line flags instead.
type Config struct {
	MaxStringLength uint32 `env:"MAX_STRING_LENGTH" envDefault:"128"`
	MaxArrayLength  uint32 `env:"MAX_ARRAY_LENGTH"  envDefault:"16"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH"`
	PostgresDSN   string `env:"POSTGRES_DSN"`

	BlobDriver         string `env:"BLOB_DRIVER"               envDefault:"fs"`
	BlobFSRoot         string `env:"BLOB_FS_ROOT"              envDefault:"blobs"`
	BlobS3Bucket       string `env:"BLOB_S3_BUCKET"`
	BlobS3Region       string `env:"BLOB_S3_REGION"            envDefault:"us-east-1"`
	BlobS3Endpoint     string `env:"BLOB_S3_ENDPOINT"`
	BlobS3PathStyle    bool   `env:"BLOB_S3_PATH_STYLE"`
	BlobS3AccessKeyID  string `env:"BLOB_S3_ACCESS_KEY_ID"`
	BlobS3SecretKey    string `env:"BLOB_S3_SECRET_ACCESS_KEY"`
	BlobS3SessionToken string `env:"BLOB_S3_SESSION_TOKEN"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses the given variables instead of the process environment.
// Keys carry the full prefixed name.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	errs := []error{c.Limits().Validate()}
	switch core.StorageDriver(c.StorageDriver) {
	case core.StorageMemory, core.StorageSQLite, core.StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}
	switch blob.Driver(c.BlobDriver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.BlobS3Bucket == "" {
			errs = append(errs, errors.New("s3 blob driver requires a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.BlobDriver))
	}
	return errors.Join(errs...)
}

// Limits returns the configured field bounds.
func (c Config) Limits() domain.Limits {
	return domain.Limits{MaxStringLength: c.MaxStringLength, MaxArrayLength: c.MaxArrayLength}
}

// Storage returns the persistence backend selection.
func (c Config) Storage() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.StorageDriver),
		SQLitePath:  c.SQLitePath,
		PostgresDSN: c.PostgresDSN,
	}
}

// Blob returns the image store selection.
func (c Config) Blob() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.BlobDriver),
		FSRoot: c.BlobFSRoot,
		S3: blob.S3Config{
			Region:          c.BlobS3Region,
			Bucket:          c.BlobS3Bucket,
			Endpoint:        c.BlobS3Endpoint,
			AccessKeyID:     c.BlobS3AccessKeyID,
			SecretAccessKey: c.BlobS3SecretKey,
			SessionToken:    c.BlobS3SessionToken,
			PathStyle:       c.BlobS3PathStyle,
		},
	}
}
