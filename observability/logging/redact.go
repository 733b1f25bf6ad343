package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces the value of sensitive attributes.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are stored normalised: lower case without '_' or '-'.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"bearer":        {},
	"token":         {},
	"secret":        {},
	"jwtsecret":     {},
	"passphrase":    {},
	"password":      {},
	"privatekey":    {},
	"dsn":           {},
}

var keyNormalizer = strings.NewReplacer("_", "", "-", "")

func normalizeKey(key string) string {
	return keyNormalizer.Replace(strings.ToLower(strings.TrimSpace(key)))
}

// IsSensitive reports whether values logged under key must never be written
// out. Matching ignores case, underscores and dashes.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// SensitiveKeys returns the normalised sensitive keys in sorted order.
func SensitiveKeys() []string {
	keys := make([]string, 0, len(sensitiveKeys))
	for key := range sensitiveKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField builds a string attribute, replacing the value when key is
// sensitive. Empty values are kept so a missing header stays visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redactAttr is applied by the JSON handler to every non-group attribute.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
