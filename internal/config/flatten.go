package config

import (
	"net/url"
	"strings"
)

// secretKeys maps each secret key to the function that masks its value.
var secretKeys = map[string]func(string) string{
	"telegram.token":  maskTail,
	"relay.redis_url": maskURLPassword,
}

// IsSecretKey reports whether the dot-separated key holds a secret.
func IsSecretKey(key string) bool {
	_, ok := secretKeys[key]
	return ok
}

// Flatten converts a nested map into a flat map with dot-separated keys.
// For example, {"http": {"listen": ":8080"}} becomes {"http.listen": ":8080"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]any:
			flatten(key, child, out)
		default:
			out[key] = v
		}
	}
}

// Unflatten converts a flat map with dot-separated keys back into a nested map.
// For example, {"room.max_hints": 3} becomes {"room": {"max_hints": 3}}.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		current := out
		for i, part := range parts {
			if i == len(parts)-1 {
				current[part] = v
			} else {
				next, ok := current[part]
				if !ok {
					next = make(map[string]any)
					current[part] = next
				}
				m, ok := next.(map[string]any)
				if !ok {
					m = make(map[string]any)
					current[part] = m
				}
				current = m
			}
		}
	}
	return out
}

// MaskSecrets returns a copy of the flat map with secret values masked.
// The bot token keeps only its last 4 characters ("***wxyz"). The Redis
// URL keeps its host and database so the operator can tell which instance
// is configured, with the password replaced. Empty values stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		mask, secret := secretKeys[k]
		if s, ok := v.(string); secret && ok && s != "" {
			out[k] = mask(s)
		}
	}
	return out
}

func maskTail(s string) string {
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}

// maskURLPassword hides the password of a connection URL. Values that do
// not parse as a URL with a host fall back to maskTail.
func maskURLPassword(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return maskTail(s)
	}
	return u.Redacted()
}
