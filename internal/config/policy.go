/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/skald_publish/internal/scheduling"
)

// PublishPolicy carries scheduling policy knobs loaded from a YAML file.
// Surfaces are API callers with distinct lead-time requirements: the
// interactive dashboard can schedule two minutes out, while bulk imports get
// a longer runway so operators can review before anything fires.
type PublishPolicy struct {
	MinLeadMinutes int            `yaml:"min_lead_minutes"`
	Surfaces       map[string]int `yaml:"surfaces"`
}

// DefaultPublishPolicy returns the policy used when no file is configured.
func DefaultPublishPolicy() *PublishPolicy {
	return &PublishPolicy{MinLeadMinutes: scheduling.DefaultMinLeadMinutes}
}

// LoadPublishPolicy reads a policy file. An empty path yields the default
// policy; a configured but unreadable or invalid file is a hard error so a
// typo never silently relaxes lead times.
func LoadPublishPolicy(path string) (*PublishPolicy, error) {
	if path == "" {
		return DefaultPublishPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read publish policy: %w", err)
	}

	policy := DefaultPublishPolicy()
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("parse publish policy: %w", err)
	}

	if policy.MinLeadMinutes < 0 {
		return nil, fmt.Errorf("publish policy: min_lead_minutes must not be negative")
	}
	for surface, lead := range policy.Surfaces {
		if lead < 0 {
			return nil, fmt.Errorf("publish policy: surface %q lead must not be negative", surface)
		}
	}

	return policy, nil
}

// LeadFor returns the lead minutes for a surface, falling back to the
// policy-wide default for unknown surfaces.
func (p *PublishPolicy) LeadFor(surface string) int {
	if lead, ok := p.Surfaces[surface]; ok {
		return lead
	}
	return p.MinLeadMinutes
}
