package config

import "strings"

// sections are the top-level keys of config.yaml that `masitaprex config`
// may edit. Tenant configs go through the API so they are validated.
var sections = map[string]bool{
	"gateway":     true,
	"logging":     true,
	"store":       true,
	"bridge":      true,
	"sessions":    true,
	"inference":   true,
	"media":       true,
	"delivery":    true,
	"escalation":  true,
	"tenantsFile": true,
}

// Key is a dotted config.yaml key such as "delivery.bulkIntervalMs".
type Key []string

// ParseKey splits raw into a Key rooted at a known section.
func ParseKey(raw string) (Key, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config key"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config key " + raw + " has an empty segment"}
		}
	}
	switch {
	case parts[0] == "tenants":
		return nil, &ConfigError{Message: "tenant configs are edited through the API, not config keys"}
	case !sections[parts[0]]:
		return nil, &ConfigError{Message: "unknown config section: " + parts[0]}
	}
	return Key(parts), nil
}

func (k Key) String() string { return strings.Join(k, ".") }

// Lookup returns the value at k in a raw config document.
func (k Key) Lookup(root map[string]any) (any, bool) {
	current := any(root)
	for _, seg := range k {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return current, true
}

// Set stores v at k, replacing any scalar in the way with a section.
func (k Key) Set(root map[string]any, v any) {
	current := root
	for _, seg := range k[:len(k)-1] {
		m, ok := current[seg].(map[string]any)
		if !ok {
			m = map[string]any{}
			current[seg] = m
		}
		current = m
	}
	current[k[len(k)-1]] = v
}

// Unset removes the value at k and reports whether it was there.
func (k Key) Unset(root map[string]any) bool {
	current := root
	for _, seg := range k[:len(k)-1] {
		m, ok := current[seg].(map[string]any)
		if !ok {
			return false
		}
		current = m
	}
	last := k[len(k)-1]
	if _, ok := current[last]; !ok {
		return false
	}
	delete(current, last)
	return true
}
