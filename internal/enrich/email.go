package enrich

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// rolePatterns maps local-part prefixes to role classifications.
// Order matters: the first matching prefix wins.
var rolePatterns = []struct {
	prefix string
	role   string
}{
	{"info", "generic"},
	{"contact", "generic"},
	{"hello", "generic"},
	{"support", "support"},
	{"sales", "sales"},
	{"admin", "admin"},
	{"ceo", "executive"},
	{"cto", "executive"},
	{"cfo", "executive"},
	{"hr", "human_resources"},
}

var titleCaser = cases.Title(language.Und)

// EmailAnalyzer derives signals from the email address itself. It makes no
// network calls and is the first provider in the pipeline.
type EmailAnalyzer struct{}

// NewEmailAnalyzer creates an EmailAnalyzer.
func NewEmailAnalyzer() *EmailAnalyzer { return &EmailAnalyzer{} }

func (a *EmailAnalyzer) Name() string { return "email_analysis" }

// Enrich classifies the local part against the role table, infers
// corporate-vs-personal from the domain, and best-effort guesses a human name
// from dot- or underscore-separated local parts.
func (a *EmailAnalyzer) Enrich(_ context.Context, email, domain string, _ map[string]any) (map[string]any, error) {
	local, _, _ := strings.Cut(email, "@")

	role := "personal"
	lower := strings.ToLower(local)
	for _, p := range rolePatterns {
		if strings.HasPrefix(lower, p.prefix) {
			role = p.role
			break
		}
	}

	return map[string]any{
		"is_corporate_email": !IsGenericDomain(domain),
		"email_local_part":   local,
		"email_role_type":    role,
		"name_from_email":    guessName(local),
		"domain":             domain,
	}, nil
}

// guessName splits the local part on "." (or "_" as fallback) and title-cases
// each segment. Returns nil when neither separator is present.
func guessName(local string) any {
	var parts []string
	switch {
	case strings.Contains(local, "."):
		parts = strings.Split(local, ".")
	case strings.Contains(local, "_"):
		parts = strings.Split(local, "_")
	default:
		return nil
	}

	for i, p := range parts {
		parts[i] = titleCaser.String(p)
	}
	return strings.Join(parts, " ")
}
