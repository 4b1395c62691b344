// Package validation checks client-supplied input before it reaches a
// vBucket's hash table, gating a write at the service boundary rather
// than deep inside storage.
package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/vbucket-engine/core/internal/durability"
	"github.com/vbucket-engine/core/internal/errors"
)

const (
	MaxKeySize   = 250         // matches the on-wire key length limit
	MaxValueSize = 20 * 1024 * 1024
	MinDurabilityTimeout = 10 * time.Millisecond
	MaxDurabilityTimeout = 5 * time.Minute
)

// Validator checks keys, values, and durability requirements against
// configured size and sanity limits.
type Validator struct {
	maxKeySize   int
	maxValueSize int
}

// NewValidator creates a Validator with the default limits.
func NewValidator() *Validator {
	return &Validator{maxKeySize: MaxKeySize, maxValueSize: MaxValueSize}
}

// NewValidatorWithLimits creates a Validator with custom size limits.
func NewValidatorWithLimits(maxKeySize, maxValueSize int) *Validator {
	return &Validator{maxKeySize: maxKeySize, maxValueSize: maxValueSize}
}

// ValidateMutation checks a key and value together, the pair every
// Set/Add/Replace call must pass before it may touch the hash table.
func (v *Validator) ValidateMutation(key string, value []byte) error {
	if err := v.ValidateKey(key); err != nil {
		return err
	}
	return v.ValidateValue(value)
}

// ValidateKey checks a document key.
func (v *Validator) ValidateKey(key string) error {
	if key == "" {
		return errors.InvalidArgument("key cannot be empty")
	}
	if len(key) > v.maxKeySize {
		return errors.InvalidArgument(fmt.Sprintf("key exceeds maximum size of %d bytes", v.maxKeySize))
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return errors.InvalidArgument("key cannot contain control characters")
		}
	}
	if strings.Contains(key, "\x00") {
		return errors.InvalidArgument("key cannot contain null bytes")
	}
	return nil
}

// ValidateValue checks a document body. A nil value is valid (an empty
// document), the way a tombstone or a zero-length value is allowed.
func (v *Validator) ValidateValue(value []byte) error {
	if value == nil {
		return nil
	}
	if len(value) > v.maxValueSize {
		return errors.InvalidArgument(fmt.Sprintf("value exceeds maximum size of %d bytes", v.maxValueSize))
	}
	return nil
}

// ValidateDurabilityRequirement checks that a client-supplied durability
// level and timeout are sane before they reach the active monitor.
func (v *Validator) ValidateDurabilityRequirement(req durability.Requirement) error {
	switch req.Level {
	case durability.Majority, durability.MajorityAndPersistOnMaster, durability.PersistToMajority:
	default:
		return errors.New(errors.DurabilityInvalidLevel, fmt.Sprintf("unknown durability level: %d", req.Level))
	}
	if req.Timeout < MinDurabilityTimeout || req.Timeout > MaxDurabilityTimeout {
		return errors.InvalidArgument(fmt.Sprintf(
			"durability timeout %s out of allowed range [%s, %s]", req.Timeout, MinDurabilityTimeout, MaxDurabilityTimeout))
	}
	return nil
}

// SanitizeKey strips null bytes and non-tab/newline control characters
// from a key, for logging or diagnostics output rather than storage.
func SanitizeKey(key string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r == 0 || (unicode.IsControl(r) && r != '\t' && r != '\n') {
			return -1
		}
		return r
	}, key)
	sanitized = strings.TrimSpace(sanitized)
	if len(sanitized) > MaxKeySize {
		sanitized = sanitized[:MaxKeySize]
	}
	return sanitized
}
