// Package config resolves per-plugin configuration. Every plugin sees the
// global properties overlaid with its own overrides.
package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// EnabledKey is the property that switches a plugin on.
const EnabledKey = "enabled"

// ChangeListener is notified when a plugin's configuration is rebuilt.
type ChangeListener func(old, updated *PluginConfig)

type listeners struct {
	mu  sync.Mutex
	fns []ChangeListener
}

func (l *listeners) add(fn ChangeListener) {
	l.mu.Lock()
	l.fns = append(l.fns, fn)
	l.mu.Unlock()
}

func (l *listeners) snapshot() []ChangeListener {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ChangeListener(nil), l.fns...)
}

// PluginConfig is the immutable configuration of one plugin.
type PluginConfig struct {
	domain    string
	namespace string
	id        string
	global    map[string]string
	override  map[string]string
	enabled   bool
	listeners *listeners
}

// NewPluginConfig builds a plugin configuration. Listeners registered on
// previous carry over to the new configuration; previous may be nil.
func NewPluginConfig(domain, id string, global map[string]string, namespace string, override map[string]string, previous *PluginConfig) *PluginConfig {
	l := &listeners{}
	if previous != nil {
		l = previous.listeners
	}
	c := &PluginConfig{
		domain:    domain,
		namespace: namespace,
		id:        id,
		global:    copyMap(global),
		override:  copyMap(override),
		listeners: l,
	}
	c.enabled = c.Boolean(EnabledKey)
	return c
}

func (c *PluginConfig) Domain() string    { return c.domain }
func (c *PluginConfig) Namespace() string { return c.namespace }
func (c *PluginConfig) ID() string        { return c.id }

// Enabled reports whether the plugin is switched on. It is decided once, at
// construction, with Boolean(EnabledKey).
func (c *PluginConfig) Enabled() bool { return c.enabled }

// HasProperty reports whether either layer sets property.
func (c *PluginConfig) HasProperty(property string) bool {
	_, inGlobal := c.global[property]
	_, inOverride := c.override[property]
	return inGlobal || inOverride
}

// String returns the override value of property, falling back to the global one.
func (c *PluginConfig) String(property string) (string, bool) {
	if v, ok := c.override[property]; ok {
		return v, true
	}
	v, ok := c.global[property]
	return v, ok
}

// Int parses String(property). It reports false when unset or malformed.
func (c *PluginConfig) Int(property string) (int, bool) {
	v, ok := c.String(property)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return i, true
}

// Int64 parses String(property). It reports false when unset or malformed.
func (c *PluginConfig) Int64(property string) (int64, bool) {
	v, ok := c.String(property)
	if !ok {
		return 0, false
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}

// Float parses String(property). It reports false when unset or malformed.
func (c *PluginConfig) Float(property string) (float64, bool) {
	v, ok := c.String(property)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Boolean is true only when the global layer sets property to a true value
// and the override layer, if it sets property at all, agrees. An override
// can switch a globally enabled property off, never a disabled one on.
func (c *PluginConfig) Boolean(property string) bool {
	overrideOn := true
	if v, ok := c.override[property]; ok {
		overrideOn = isTrue(v)
	}
	globalOn := false
	if v, ok := c.global[property]; ok {
		globalOn = isTrue(v)
	}
	return overrideOn && globalOn
}

// StringList splits String(property) on commas.
func (c *PluginConfig) StringList(property string) []string {
	v, ok := c.String(property)
	if !ok {
		return nil
	}
	return strings.Split(v, ",")
}

// Keys returns the sorted union of property names of both layers.
func (c *PluginConfig) Keys() []string {
	set := make(map[string]struct{}, len(c.global)+len(c.override))
	for k := range c.global {
		set[k] = struct{}{}
	}
	for k := range c.override {
		set[k] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Global returns the global layer alone, sharing this plugin's listeners.
func (c *PluginConfig) Global() *PluginConfig {
	g := &PluginConfig{
		domain:    c.domain,
		namespace: c.namespace,
		id:        c.id,
		global:    c.global,
		override:  map[string]string{},
		listeners: c.listeners,
	}
	g.enabled = g.Boolean(EnabledKey)
	return g
}

// OnChange registers fn to be called after every rebuild of this plugin.
func (c *PluginConfig) OnChange(fn ChangeListener) {
	c.listeners.add(fn)
}

func (c *PluginConfig) notify(old *PluginConfig) {
	for _, fn := range c.listeners.snapshot() {
		fn(old, c)
	}
}

func isTrue(v string) bool {
	v = strings.TrimSpace(v)
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
