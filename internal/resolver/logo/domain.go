package logo

import (
	"net/url"
	"regexp"
	"strings"
)

var validDomain = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// companySuffixes are dropped when guessing a domain from a company name.
var companySuffixes = []string{
	"incorporated", "inc", "llc", "ltd", "limited", "corp", "corporation",
	"co", "gmbh", "plc", "sa", "ag", "bv", "group",
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeDomain reduces a URL or host to a bare lowercase domain. It
// returns "" when raw is not a plausible domain.
func NormalizeDomain(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if !validDomain.MatchString(host) {
		return ""
	}
	return host
}

// DomainFor derives the domain to resolve for an employer. An explicit
// domain wins; otherwise the company name is slugged onto .com.
func DomainFor(company, domain string) string {
	if d := NormalizeDomain(domain); d != "" {
		return d
	}
	if d := NormalizeDomain(company); d != "" && strings.Contains(company, ".") {
		return d
	}

	words := strings.Fields(nonAlnum.ReplaceAllString(strings.ToLower(company), " "))
	for len(words) > 1 && isSuffix(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	slug := strings.Join(words, "")
	if slug == "" {
		return ""
	}
	return slug + ".com"
}

func isSuffix(w string) bool {
	for _, s := range companySuffixes {
		if w == s {
			return true
		}
	}
	return false
}
