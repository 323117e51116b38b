package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ChannelRegex validates restreamer process ids such as
	// "restreamer-ui:ingest:3f2a...".
	ChannelRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:\-]+$`)
)

// ValidateServerName validates a stream server entry name
func ValidateServerName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("server name is too long (max 100 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("server name contains invalid characters")
	}
	return nil
}

// ValidateBaseURL validates the root URL of a backend API
func ValidateBaseURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid base URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("base URL must have a host")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("base URL must not carry a query or fragment")
	}
	return nil
}

// ValidateChannel validates a process id
func ValidateChannel(channel string) error {
	if channel == "" {
		return fmt.Errorf("channel is required")
	}
	if len(channel) > 200 {
		return fmt.Errorf("channel is too long (max 200 characters)")
	}
	if !ChannelRegex.MatchString(channel) {
		return fmt.Errorf("invalid channel format")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateOneOf validates that s is one of the allowed values
func ValidateOneOf(s, fieldName string, allowed ...string) error {
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", fieldName, strings.Join(allowed, ", "), s)
}
