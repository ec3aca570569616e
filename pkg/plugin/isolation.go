package plugin

import (
	"fmt"
	"slices"
)

// IsolationStrategy decides whether a plugin may be activated.
type IsolationStrategy interface {
	Validate(m Manifest, policy IsolationPolicy) error
}

// CapabilityIsolation checks declared capabilities against the policy. An
// empty allow list permits every capability not explicitly denied.
type CapabilityIsolation struct{}

// Validate implements IsolationStrategy.
func (CapabilityIsolation) Validate(m Manifest, policy IsolationPolicy) error {
	for _, c := range m.Capabilities {
		if slices.Contains(policy.DeniedCapabilities, c) {
			return fmt.Errorf("capability %s is explicitly denied", c)
		}
	}
	if len(policy.AllowedCapabilities) == 0 {
		return nil
	}
	for _, c := range m.Capabilities {
		if !slices.Contains(policy.AllowedCapabilities, c) {
			return fmt.Errorf("capability %s not permitted", c)
		}
	}
	return nil
}

// NewIsolationStrategy returns strategy, or CapabilityIsolation when nil.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return CapabilityIsolation{}
	}
	return strategy
}
