package domain

import (
	"fmt"
	"strings"
)

// ExistingFilePolicy decides what happens when a download's destination already exists
type ExistingFilePolicy int

const (
	// PolicyResume continues a partial file with a byte-range request
	PolicyResume ExistingFilePolicy = iota
	// PolicyDelete removes the existing file before downloading
	PolicyDelete
	// PolicyIgnore skips the download entirely
	PolicyIgnore
)

// DefaultPolicy is used when neither the request nor the config names one
const DefaultPolicy = PolicyResume

// String returns the policy name as used in configuration
func (p ExistingFilePolicy) String() string {
	switch p {
	case PolicyResume:
		return "resume"
	case PolicyDelete:
		return "delete"
	case PolicyIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy parses a policy name; the empty string yields DefaultPolicy
func ParsePolicy(s string) (ExistingFilePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultPolicy, nil
	case "resume":
		return PolicyResume, nil
	case "delete":
		return PolicyDelete, nil
	case "ignore", "skip":
		return PolicyIgnore, nil
	default:
		return DefaultPolicy, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (p ExistingFilePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *ExistingFilePolicy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
