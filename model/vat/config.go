// Package vat defines vat and cluster configuration records.
package vat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/viant/ocap/model/ref"
)

// Config describes how to start one vat. Exactly one source field must be set.
type Config struct {
	SourceSpec      string                 `json:"sourceSpec,omitempty" yaml:"sourceSpec,omitempty"`
	BundleSpec      string                 `json:"bundleSpec,omitempty" yaml:"bundleSpec,omitempty"`
	BundleName      string                 `json:"bundleName,omitempty" yaml:"bundleName,omitempty"`
	Parameters      map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	CreationOptions map[string]interface{} `json:"creationOptions,omitempty" yaml:"creationOptions,omitempty"`
}

// Source returns the configured source, whichever field carries it.
func (c *Config) Source() string {
	switch {
	case c.SourceSpec != "":
		return c.SourceSpec
	case c.BundleSpec != "":
		return c.BundleSpec
	}
	return c.BundleName
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("vat config is nil")
	}
	count := 0
	for _, candidate := range []string{c.SourceSpec, c.BundleSpec, c.BundleName} {
		if strings.TrimSpace(candidate) != "" {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("vat config must specify exactly one of sourceSpec, bundleSpec, bundleName")
	}
	return nil
}

// ClusterConfig describes a set of vats launched together.
type ClusterConfig struct {
	Bootstrap  string             `json:"bootstrap" yaml:"bootstrap"`
	ForceReset bool               `json:"forceReset,omitempty" yaml:"forceReset,omitempty"`
	Vats       map[string]*Config `json:"vats" yaml:"vats"`
	// LaunchOrder lists vat names in launch order; DecodeCluster fills it
	// from declaration order.
	LaunchOrder []string `json:"launchOrder,omitempty" yaml:"launchOrder,omitempty"`
}

// Validate checks the cluster config.
func (c *ClusterConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("cluster config is nil")
	}
	if len(c.Vats) == 0 {
		return fmt.Errorf("cluster config has no vats")
	}
	for _, name := range c.VatNames() {
		if err := c.Vats[name].Validate(); err != nil {
			return fmt.Errorf("invalid vat %q: %w", name, err)
		}
	}
	for _, name := range c.LaunchOrder {
		if _, ok := c.Vats[name]; !ok {
			return fmt.Errorf("invalid launchOrder vat name %q", name)
		}
	}
	if c.Bootstrap != "" {
		if _, ok := c.Vats[c.Bootstrap]; !ok {
			return fmt.Errorf("invalid bootstrap vat name %q", c.Bootstrap)
		}
	}
	return nil
}

// VatNames returns the vat names in launch order: LaunchOrder when it names
// every vat once, lexical order otherwise.
func (c *ClusterConfig) VatNames() []string {
	if c.hasLaunchOrder() {
		return append([]string(nil), c.LaunchOrder...)
	}
	ret := make([]string, 0, len(c.Vats))
	for name := range c.Vats {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

func (c *ClusterConfig) hasLaunchOrder() bool {
	if len(c.LaunchOrder) != len(c.Vats) {
		return false
	}
	seen := make(map[string]bool, len(c.LaunchOrder))
	for _, name := range c.LaunchOrder {
		if _, ok := c.Vats[name]; !ok || seen[name] {
			return false
		}
		seen[name] = true
	}
	return true
}

// Record is a persisted vat config keyed by vat id.
type Record struct {
	VatID  ref.VatID `json:"vatId"`
	Config *Config   `json:"config"`
}
