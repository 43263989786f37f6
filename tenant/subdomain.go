package tenant

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/influxdata/onboarding/sqlite"
)

const (
	maxSubdomainLen        = 63
	maxSubdomainCandidates = 20
)

var (
	subdomainPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{1,61}[a-z0-9])$`)
	nonSlugChars     = regexp.MustCompile(`[^a-z0-9]+`)

	reservedSubdomains = map[string]struct{}{
		"admin": {}, "api": {}, "app": {}, "auth": {}, "billing": {},
		"dashboard": {}, "help": {}, "login": {}, "mail": {}, "root": {},
		"static": {}, "status": {}, "support": {}, "system": {}, "www": {},
	}
)

// NormalizeSubdomain lowercases and trims s.
func NormalizeSubdomain(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateSubdomain returns a description of what is wrong with s, or "" when it is usable.
func ValidateSubdomain(s string) string {
	if !subdomainPattern.MatchString(s) {
		return "must be 3 to 63 characters of a-z, 0-9 and '-', starting and ending with a letter or digit"
	}
	if _, ok := reservedSubdomains[s]; ok {
		return "is reserved"
	}
	return ""
}

// Slugify derives a subdomain candidate from a company name.
func Slugify(name string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSubdomainLen-7 {
		slug = strings.TrimRight(slug[:maxSubdomainLen-7], "-")
	}
	switch {
	case slug == "":
		slug = "tenant"
	case len(slug) < 3:
		slug += "-org"
	}
	if _, ok := reservedSubdomains[slug]; ok {
		slug += "-org"
	}
	return slug
}

// GenerateSubdomain returns the first free candidate derived from name:
// the slug itself, then slug-2 through slug-20, then a random suffix.
func (s *Store) GenerateSubdomain(ctx context.Context, tx *sqlite.Tx, name string) (string, error) {
	base := Slugify(name)
	for i := 1; i <= maxSubdomainCandidates; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		taken, err := s.SubdomainExists(ctx, tx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return base + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6], nil
}
