package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// defaultPlanLimits mirrors the billing component's published tiers. A YAML
// file can override it so limit changes don't require a redeploy.
var defaultPlanLimits = map[domain.Plan]domain.PlanLimits{
	domain.PlanFree:     {MaxSessions: 1, MaxPairs: 3, MsgsPerDay: 500, AdvancedFiltering: false},
	domain.PlanPro:      {MaxSessions: 3, MaxPairs: 20, MsgsPerDay: 10000, AdvancedFiltering: true},
	domain.PlanBusiness: {MaxSessions: 10, MaxPairs: 100, MsgsPerDay: 0, AdvancedFiltering: true},
}

// PlanTable resolves plan limits. The core reads it, never mutates it.
type PlanTable struct {
	limits map[domain.Plan]domain.PlanLimits
}

// LoadPlanTable returns the plan table, merging overrides from path when set.
func LoadPlanTable(path string) (PlanTable, error) {
	limits := make(map[domain.Plan]domain.PlanLimits, len(defaultPlanLimits))
	for p, l := range defaultPlanLimits {
		limits[p] = l
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return PlanTable{}, fmt.Errorf("op=config.LoadPlanTable: %w", err)
		}
		var override map[domain.Plan]domain.PlanLimits
		if err := yaml.Unmarshal(raw, &override); err != nil {
			return PlanTable{}, fmt.Errorf("op=config.LoadPlanTable: %w", err)
		}
		for p, l := range override {
			limits[p] = l
		}
	}
	return PlanTable{limits: limits}, nil
}

// Limits returns the limits for a plan, falling back to the free tier for
// unknown plans.
func (t PlanTable) Limits(p domain.Plan) domain.PlanLimits {
	if l, ok := t.limits[p]; ok {
		return l
	}
	return t.limits[domain.PlanFree]
}
