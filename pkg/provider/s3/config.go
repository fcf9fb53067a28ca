// Package s3 uploads staging files to S3 with temporary STS credentials.
package s3

import "strings"

// Config configures an S3 uploader from an upload session.
//
// Credentials are the temporary STS credentials issued by the API; the
// SDK default chain is not consulted.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Prefix is prepended to every key, typically "<project>/<version>/".
	Prefix string

	// Region defaults to us-east-1 when empty and Endpoint is unset.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// ForcePathStyle forces path-style URLs (bucket in path). Required by
	// most S3-compatible stores.
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "upload session did not provide credentials",
		}
	}
	return nil
}

// Key returns the object key for a staging path.
func (c *Config) Key(path string) string {
	prefix := strings.TrimPrefix(c.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + strings.TrimPrefix(path, "/")
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
