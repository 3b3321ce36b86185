package enrich

import (
	"strings"

	"github.com/rotisserie/eris"
)

// genericDomains are public webmail providers. Leads on these domains get no
// company linkage, no scraping, and no cache entries.
var genericDomains = map[string]struct{}{
	"gmail.com":      {},
	"hotmail.com":    {},
	"outlook.com":    {},
	"yahoo.com":      {},
	"icloud.com":     {},
	"protonmail.com": {},
	"live.com":       {},
	"msn.com":        {},
	"aol.com":        {},
	"mail.com":       {},
	"zoho.com":       {},
	"yandex.com":     {},
	"tutanota.com":   {},
	"gmx.com":        {},
	"fastmail.com":   {},
}

// IsGenericDomain reports whether domain is a public webmail domain.
func IsGenericDomain(domain string) bool {
	_, ok := genericDomains[domain]
	return ok
}

// Domain extracts the lowercased domain from an email address. The local
// part's case is left untouched by callers; only the domain is normalized.
func Domain(email string) (string, error) {
	_, domain, found := strings.Cut(email, "@")
	if !found || domain == "" {
		return "", eris.Errorf("enrich: invalid email %q", email)
	}
	return strings.ToLower(domain), nil
}
