/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package app

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/acronis/watchtower/config"
)

// RedactedValue replaces secrets in the effective settings.
const RedactedValue = "<redacted>"

var secretSettings = []string{
	"upstream.apiToken",
	"rateLimit.redis.password",
}

type keyPrefixedConfig interface {
	config.Config
	config.KeyPrefixProvider
}

func (c *Config) sections() []keyPrefixedConfig {
	return []keyPrefixedConfig{c.Log, c.Server, c.RateLimit, c.Upstream, c.Client, c.ProfServer}
}

// EffectiveSettings returns the configuration as a tree of settings keyed the same way as in the config file.
// Non-empty secrets are replaced with RedactedValue.
func (c *Config) EffectiveSettings() (map[string]interface{}, error) {
	root := make(map[string]interface{})
	for _, section := range c.sections() {
		var sectionSettings map[string]interface{}
		if err := mapstructure.Decode(section, &sectionSettings); err != nil {
			return nil, fmt.Errorf("decode %q section: %w", section.KeyPrefix(), err)
		}
		target := root
		if section.KeyPrefix() != "" {
			target = subtree(root, strings.Split(section.KeyPrefix(), "."))
		}
		for k, v := range sectionSettings {
			target[k] = v
		}
	}
	for _, key := range secretSettings {
		path := strings.Split(key, ".")
		parent := subtree(root, path[:len(path)-1])
		if v, ok := parent[path[len(path)-1]].(string); ok && v != "" {
			parent[path[len(path)-1]] = RedactedValue
		}
	}
	return root, nil
}

func subtree(root map[string]interface{}, path []string) map[string]interface{} {
	node := root
	for _, name := range path {
		child, ok := node[name].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[name] = child
		}
		node = child
	}
	return node
}
