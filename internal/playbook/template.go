package playbook

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/observability"
)

// templateRE matches placeholders like {identity.email} or
// {password_variants.digits_8}.
var templateRE = regexp.MustCompile(`\{(\w+(?:\.\w+)*)\}`)

// ResolveTemplate expands identity placeholders in a step value or
// selector. Supported forms:
//
//	{identity.<field>}           any field on the identity
//	{password_variants.<name>}   a specific password variant
//	{<field>}                    shorthand for {identity.<field>}
//
// Unresolved placeholders are left in place and logged, so a typo in a
// playbook shows up in the typed value rather than as silent data loss.
func ResolveTemplate(template string, id schemas.Identity) string {
	if !strings.Contains(template, "{") {
		return template
	}
	logger := observability.GetLogger().Named("playbook")

	return templateRE.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]

		path := key
		if rest, ok := strings.CutPrefix(key, "identity."); ok {
			path = rest
		}
		if v, ok := id.Field(path); ok {
			return v
		}
		logger.Warn("Unresolved template variable", zap.String("placeholder", key))
		return m
	})
}
