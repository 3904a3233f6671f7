package core

import (
	"errors"
	"fmt"
)

// ConfigError is a startup configuration problem with a suggested fix.
type ConfigError struct {
	Code    string
	Message string
	Action  string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Action != "" {
		return msg + ". " + e.Action
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Configuration error codes.
const (
	ErrCodeConfigFile    = "CONFIG_FILE"
	ErrCodeInvalidValue  = "INVALID_VALUE"
	ErrCodeDirectory     = "DIRECTORY"
	ErrCodeListenAddr    = "LISTEN_ADDR"
	ErrCodeDiskSpace     = "DISK_SPACE"
	ErrCodeMissingConfig = "MISSING_CONFIG"
)

// ErrConfigFile reports an unreadable or malformed YAML config file.
func ErrConfigFile(path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFile,
		Message: fmt.Sprintf("Cannot load config file %s", path),
		Action:  "Fix the YAML or unset MOCHI_CONFIG_FILE",
		Err:     err,
	}
}

// ErrInvalidValue reports a variable holding an unsupported value.
func ErrInvalidValue(key, value, allowed string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s %q", key, value),
		Action:  fmt.Sprintf("Set %s to one of: %s", key, allowed),
	}
}

// ErrDirectory reports a directory that cannot be created or written.
func ErrDirectory(key, path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeDirectory,
		Message: fmt.Sprintf("Directory %s (%s) is not usable", path, key),
		Action:  fmt.Sprintf("Create the directory or point %s somewhere writable", key),
		Err:     err,
	}
}

// ErrListenAddr reports a malformed listen address.
func ErrListenAddr(addr string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeListenAddr,
		Message: fmt.Sprintf("Invalid MOCHI_LISTEN_ADDR %q", addr),
		Action:  "Use host:port, e.g. :8085 or 127.0.0.1:8085",
		Err:     err,
	}
}

// ErrMissingConfig reports a required value that was not set.
func ErrMissingConfig(key string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", key),
		Action:  fmt.Sprintf("Set %s in .env or the config file", key),
	}
}

// AsConfigError unwraps err to a *ConfigError.
func AsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ErrorCode returns the ConfigError code in err's chain, or "".
func ErrorCode(err error) string {
	if ce, ok := AsConfigError(err); ok {
		return ce.Code
	}
	return ""
}
