package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a plugin configuration file:
//
//	global:
//	  enabled: true
//	plugins:
//	  http:
//	    domain: observability
//	    namespace: http
//	    properties:
//	      enabled: false
type File struct {
	Global  map[string]string     `yaml:"global"`
	Plugins map[string]PluginFile `yaml:"plugins"`
}

// PluginFile is one plugin section of File.
type PluginFile struct {
	Domain     string            `yaml:"domain"`
	Namespace  string            `yaml:"namespace"`
	Properties map[string]string `yaml:"properties"`
}

// DefaultDomain is used for plugins whose section names no domain.
const DefaultDomain = "observability"

// Parse decodes a plugin configuration file.
func Parse(r io.Reader) (File, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("config: decode: %w", err)
	}
	return f, nil
}

// Load reads a plugin configuration file from path.
func Load(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("config: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Registry hands out plugin configurations and rebuilds them on Update.
type Registry struct {
	mu      sync.RWMutex
	file    File
	plugins map[string]*PluginConfig
}

// NewRegistry creates a registry over f.
func NewRegistry(f File) *Registry {
	return &Registry{file: f, plugins: make(map[string]*PluginConfig)}
}

// Plugin returns the configuration of plugin id. A plugin without a section
// in the file sees the global layer only.
func (r *Registry) Plugin(id string) *PluginConfig {
	r.mu.RLock()
	c, ok := r.plugins[id]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.plugins[id]; ok {
		return c
	}
	c = r.build(id, nil)
	r.plugins[id] = c
	return c
}

// Update replaces the file, rebuilds every plugin configuration handed out
// so far and notifies their listeners.
func (r *Registry) Update(f File) {
	r.mu.Lock()
	r.file = f
	type change struct{ old, updated *PluginConfig }
	changes := make([]change, 0, len(r.plugins))
	for id, old := range r.plugins {
		updated := r.build(id, old)
		r.plugins[id] = updated
		changes = append(changes, change{old, updated})
	}
	r.mu.Unlock()

	for _, ch := range changes {
		ch.updated.notify(ch.old)
	}
}

// build creates the configuration of id. Caller holds mu.
func (r *Registry) build(id string, previous *PluginConfig) *PluginConfig {
	section := r.file.Plugins[id]
	domain := section.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	namespace := section.Namespace
	if namespace == "" {
		namespace = id
	}
	return NewPluginConfig(domain, id, r.file.Global, namespace, section.Properties, previous)
}
