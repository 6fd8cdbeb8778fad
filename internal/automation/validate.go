package automation

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Limits for job application automation request validation.
const (
	MaxJobURLLength         = 2048
	MaxCustomAnswerKeyLen   = 120
	MaxCustomAnswerValueLen = 2000
	MaxCustomAnswerCount    = 50
)

// Hostname patterns that must never be targeted by a run, checked literally
// without DNS resolution. The worker fetches the job URL with a full browser,
// so a permissive validator would let callers probe internal infrastructure.
var disallowedHostPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^localhost$`),
	regexp.MustCompile(`(?i)^localhost\.localdomain$`),
	regexp.MustCompile(`^127\.`),
	regexp.MustCompile(`^10\.`),
	regexp.MustCompile(`^172\.(1[6-9]|2\d|3[01])\.`),
	regexp.MustCompile(`^192\.168\.`),
	regexp.MustCompile(`^169\.254\.`),
	regexp.MustCompile(`(?i)\.localhost$`),
	regexp.MustCompile(`(?i)\.internal$`),
}

// SanitizeJobURL validates and normalizes an automation job URL, rejecting
// anything that targets loopback, link-local, or private address space.
func SanitizeJobURL(raw string) (string, error) {
	jobURL := strings.TrimSpace(raw)
	if jobURL == "" {
		return "", &ValidationError{Field: "jobUrl", Message: "is required"}
	}
	if len(jobURL) > MaxJobURLLength {
		return "", &ValidationError{Field: "jobUrl", Message: "exceeds maximum length"}
	}

	parsed, err := url.Parse(jobURL)
	if err != nil || !parsed.IsAbs() || parsed.Hostname() == "" {
		return "", &ValidationError{Field: "jobUrl", Message: "must be an absolute URL"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", &ValidationError{Field: "jobUrl", Message: "only http and https URLs are allowed"}
	}
	if parsed.User != nil {
		return "", &ValidationError{Field: "jobUrl", Message: "must not contain credentials"}
	}

	host := strings.ToLower(parsed.Hostname())
	if isDisallowedHost(host) {
		return "", &ValidationError{Field: "jobUrl", Message: "resolves to a disallowed host"}
	}

	return parsed.String(), nil
}

func isDisallowedHost(hostname string) bool {
	if hostname == "" || hostname == "0.0.0.0" {
		return true
	}

	for _, pattern := range disallowedHostPatterns {
		if pattern.MatchString(hostname) {
			return true
		}
	}

	if ip := net.ParseIP(hostname); ip != nil {
		return isDisallowedIP(ip)
	}

	return false
}

// isDisallowedIP covers the literal-address forms the hostname patterns miss:
// decimal-equivalent IPv4 spellings and IPv6 loopback/unique-local/link-local.
func isDisallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		return ip.IsPrivate()
	}
	// fc00::/7 unique-local
	return len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc
}

// SanitizeCustomAnswers normalizes a custom-answer payload into a flat
// string→string map, enforcing entry, key, and value limits. Non-string
// values are rejected rather than coerced.
func SanitizeCustomAnswers(customAnswers map[string]any) (map[string]string, error) {
	normalized := make(map[string]string, len(customAnswers))
	if len(customAnswers) == 0 {
		return normalized, nil
	}

	if len(customAnswers) > MaxCustomAnswerCount {
		return nil, &ValidationError{Field: "customAnswers", Message: "too many entries"}
	}

	for rawKey, rawValue := range customAnswers {
		key := strings.TrimSpace(rawKey)
		if key == "" {
			return nil, &ValidationError{Field: "customAnswers", Message: "keys must not be empty"}
		}
		if len(key) > MaxCustomAnswerKeyLen {
			return nil, &ValidationError{Field: "customAnswers", Message: "key exceeds maximum length"}
		}

		value, ok := rawValue.(string)
		if !ok {
			return nil, &ValidationError{Field: "customAnswers", Message: "values must be strings"}
		}
		value = strings.TrimSpace(value)
		if len(value) > MaxCustomAnswerValueLen {
			return nil, &ValidationError{Field: "customAnswers", Message: "value exceeds maximum length"}
		}

		normalized[key] = value
	}

	return normalized, nil
}
