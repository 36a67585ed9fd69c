package config

import (
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

// Redacted returns a copy of the configuration with secrets masked: bearer
// tokens, the storage secret key and any password in the datasource URL.
func (c *Config) Redacted() *Config {
	out := *c

	out.API.Auth.Tokens = make([]APIToken, len(c.API.Auth.Tokens))
	for i, t := range c.API.Auth.Tokens {
		t.Scopes = append([]string(nil), t.Scopes...)
		if t.Token != "" {
			t.Token = redacted
		}
		out.API.Auth.Tokens[i] = t
	}
	if out.Storage.SecretKey != "" {
		out.Storage.SecretKey = redacted
	}
	out.DataSource.URL = redactURL(c.DataSource.URL)
	out.DataSource.Tables = append([]string(nil), c.DataSource.Tables...)
	return &out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// GetPath retrieves a value from the redacted configuration using a
// dot-notation path such as "api.listen" or "storage". An empty path returns
// the whole configuration.
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return getValue(m, path)
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}
