// SPDX-License-Identifier: MIT

// Package validate accumulates field-level configuration errors.
package validate

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Error is one failed field check.
type Error struct {
	Field   string
	Value   any
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// Validator collects errors; Err reports them all at once.
type Validator struct {
	errors []error
}

func New() *Validator { return &Validator{} }

// AddError records a failure for field.
func (v *Validator) AddError(field, message string, value any) {
	v.errors = append(v.errors, Error{Field: field, Value: value, Message: message})
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

// Err joins every recorded failure, or returns nil.
func (v *Validator) Err() error { return errors.Join(v.errors...) }

// Fields lists the names of the failed fields in order.
func (v *Validator) Fields() []string {
	out := make([]string, 0, len(v.errors))
	for _, err := range v.errors {
		var e Error
		if errors.As(err, &e) {
			out = append(out, e.Field)
		}
	}
	return out
}

// URL checks value parses with a host and one of schemes.
func (v *Validator) URL(field, value string, schemes ...string) {
	if value == "" {
		v.AddError(field, "URL cannot be empty", value)
		return
	}
	u, err := url.Parse(value)
	if err != nil {
		v.AddError(field, fmt.Sprintf("invalid URL: %v", err), value)
		return
	}
	if u.Host == "" {
		v.AddError(field, "URL must have a host", value)
		return
	}
	if len(schemes) > 0 && !slices.Contains(schemes, u.Scheme) {
		v.AddError(field, fmt.Sprintf("unsupported URL scheme %q (allowed: %v)", u.Scheme, schemes), value)
	}
}

// HostPort checks a host:port pair. The host may be empty (listen on all).
func (v *Validator) HostPort(field, value string) {
	_, port, err := net.SplitHostPort(value)
	if err != nil {
		v.AddError(field, fmt.Sprintf("must be host:port: %v", err), value)
		return
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		v.AddError(field, fmt.Sprintf("port must be between 1 and 65535, got %q", port), value)
	}
}

// Range checks minVal <= value <= maxVal.
func (v *Validator) Range(field string, value, minVal, maxVal int) {
	if value < minVal || value > maxVal {
		v.AddError(field, fmt.Sprintf("value must be between %d and %d, got %d", minVal, maxVal, value), value)
	}
}

// DurationRange checks minVal <= value <= maxVal.
func (v *Validator) DurationRange(field string, value, minVal, maxVal time.Duration) {
	if value < minVal || value > maxVal {
		v.AddError(field, fmt.Sprintf("duration must be between %s and %s, got %s", minVal, maxVal, value), value)
	}
}

// NotEmpty rejects empty or whitespace-only strings.
func (v *Validator) NotEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "value cannot be empty", value)
	}
}

// OneOf checks value is one of allowed.
func (v *Validator) OneOf(field, value string, allowed ...string) {
	if !slices.Contains(allowed, value) {
		v.AddError(field, fmt.Sprintf("value must be one of %v, got %q", allowed, value), value)
	}
}

// Directory checks path is usable as a directory, creating it when missing.
func (v *Validator) Directory(field, path string) {
	if path == "" {
		v.AddError(field, "directory path cannot be empty", path)
		return
	}
	if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
		v.AddError(field, "path contains traversal sequences (..)", path)
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		v.AddError(field, fmt.Sprintf("invalid path: %v", err), path)
		return
	}
	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(abs, 0o750); err != nil {
			v.AddError(field, fmt.Sprintf("cannot create directory: %v", err), path)
		}
	case err != nil:
		v.AddError(field, fmt.Sprintf("cannot access directory: %v", err), path)
	case !info.IsDir():
		v.AddError(field, "path is not a directory", path)
	}
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// IsName reports whether s is safe to use as a streamer or tag name in file
// names and ingest URLs.
func IsName(s string) bool { return namePattern.MatchString(s) }

// Name checks value is a streamer or tag name.
func (v *Validator) Name(field, value string) {
	if !IsName(value) {
		v.AddError(field, "must be 1-64 letters, digits, '_' or '-'", value)
	}
}

// LogLevel checks a zerolog level name.
func (v *Validator) LogLevel(field, value string) {
	v.OneOf(field, strings.ToLower(value), "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled")
}
