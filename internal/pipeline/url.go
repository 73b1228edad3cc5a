package pipeline

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// NormalizeURL prefixes https:// when no scheme is present and strips trailing slashes.
// The scheme is matched case-insensitively and lowercased. It is idempotent.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	switch {
	case hasSchemePrefix(u, "https://"):
		u = "https://" + u[len("https://"):]
	case hasSchemePrefix(u, "http://"):
		u = "http://" + u[len("http://"):]
	default:
		u = "https://" + u
	}
	return strings.TrimRight(u, "/")
}

func hasSchemePrefix(u, prefix string) bool {
	return len(u) >= len(prefix) && strings.EqualFold(u[:len(prefix)], prefix)
}

// ValidateURL normalizes raw and rejects anything that is not an absolute http(s) URL with a host.
func ValidateURL(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", Invalid("url", "required")
	}
	if strings.ContainsAny(strings.TrimSpace(raw), " \t\n") {
		return "", Invalid("url", "must not contain whitespace")
	}
	normalized := NormalizeURL(raw)
	u, err := url.Parse(normalized)
	if err != nil {
		return "", Invalid("url", err.Error())
	}
	host := u.Hostname()
	if host == "" || (!strings.Contains(host, ".") && host != "localhost" && !isIP(host)) {
		return "", Invalid("url", "missing or malformed host")
	}
	return normalized, nil
}

func isIP(host string) bool {
	return ipPattern.MatchString(host)
}

var ipPattern = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)

// DefaultName derives a project name from the URL host without the www. prefix.
func DefaultName(normalizedURL string) string {
	u, err := url.Parse(normalizedURL)
	if err != nil || u.Hostname() == "" {
		return normalizedURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
	slugStrip    = regexp.MustCompile(`[^a-z0-9]+`)
)

// StripTags removes markup and collapses whitespace.
func StripTags(html string) string {
	text := tagPattern.ReplaceAllString(html, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

// Excerpt returns the first n characters of the tag-stripped html, with "..." when cut.
func Excerpt(html string, n int) string {
	text := StripTags(html)
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ValidSlug reports whether slug is lowercase, URL-safe, and non-empty.
func ValidSlug(slug string) bool {
	return slug != "" && Slugify(slug) == slug
}

// Slugify lowercases s and joins alphanumeric runs with hyphens.
func Slugify(s string) string {
	return strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
