package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ValidationError describes one invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator collects every problem instead of stopping at the first one.
type Validator struct {
	errors []ValidationError
}

func NewValidator() *Validator {
	return &Validator{errors: make([]ValidationError, 0)}
}

func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// Error formats all collected problems, one per line.
func (v *Validator) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "required value not set")
	}
}

// Addr accepts "host:port" and ":port".
func (v *Validator) Addr(field, value string) {
	if value == "" {
		return
	}
	_, portStr, err := net.SplitHostPort(value)
	if err != nil {
		v.AddError(field, "must be host:port or :port")
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		v.AddError(field, "port must be a number")
		return
	}
	if port < 1 || port > 65535 {
		v.AddError(field, "port must be between 1 and 65535")
	}
}

func (v *Validator) Positive(field string, value int64) {
	if value <= 0 {
		v.AddError(field, "must be a positive integer")
	}
}

func (v *Validator) MinLength(field, value string, minLen int) {
	if value == "" {
		return
	}
	if len(value) < minLen {
		v.AddError(field, fmt.Sprintf("must be at least %d characters long (got %d)", minLen, len(value)))
	}
}

func (v *Validator) Enum(field, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// Validate checks a fully merged Config. It returns a *Validator (which is
// an error) listing every problem, or nil.
func Validate(cfg Config) error {
	v := NewValidator()

	v.Addr("server.addr", cfg.Server.Addr)
	v.Required("database.url", cfg.Database.URL)
	v.Positive("database.max_connections", int64(cfg.Database.MaxConnections))
	v.Positive("database.max_idle", int64(cfg.Database.MaxIdle))

	v.Required("auth.jwt_secret", cfg.Auth.JWTSecret)
	v.MinLength("auth.jwt_secret", cfg.Auth.JWTSecret, 16)

	v.Enum("storage.backend", cfg.Storage.Backend, []string{StorageDisk, StorageMinio})
	v.Positive("storage.max_upload_bytes", cfg.Storage.MaxUploadBytes)
	switch cfg.Storage.Backend {
	case StorageDisk:
		v.Required("storage.upload_dir", cfg.Storage.UploadDir)
	case StorageMinio:
		v.Required("storage.minio.endpoint", cfg.Storage.Minio.Endpoint)
		v.Required("storage.minio.access_key", cfg.Storage.Minio.AccessKey)
		v.Required("storage.minio.secret_key", cfg.Storage.Minio.SecretKey)
		v.Required("storage.minio.bucket", cfg.Storage.Minio.Bucket)
	}

	v.Enum("logging.format", cfg.Logging.Format, []string{"json", "console"})

	if v.HasErrors() {
		return v
	}
	return nil
}
