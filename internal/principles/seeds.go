package principles

import (
	"context"
	"errors"
	"time"

	"github.com/caelum-ai/kaizen/internal/types"
)

// seedPrinciples are the starting rule base. Priors reflect how settled
// each rule was before any local evidence existed; from here on only
// the evidence log moves their strength.
func seedPrinciples(now time.Time) []*types.Principle {
	return []*types.Principle{
		{
			ID:          "workflow_centric_approach",
			Title:       "Workflow-centric beats tool-centric",
			Description: "Group capabilities around the workflows users actually run instead of exposing every tool individually",
			Category:    types.CategoryOrganization,
			Conditions: []string{
				"unique_tools > 15",
				"top_tool_share < 0.70",
			},
			Actions: []string{
				"consolidate related tools into workflow bundles",
				"route requests through workflow entry points",
			},
			Prior:     1.00,
			CreatedAt: now,
		},
		{
			ID:          "external_llm_compatibility",
			Title:       "Stay compatible with external LLM clients",
			Description: "Interfaces must keep working for external model clients, not just the native stack",
			Category:    types.CategoryCompatibility,
			Conditions: []string{
				"error_rate > 0.05",
			},
			Actions: []string{
				"keep response formats stable across client versions",
				"surface capability differences instead of failing silently",
			},
			Prior:     0.95,
			CreatedAt: now,
		},
		{
			ID:          "intelligence_driven_optimization",
			Title:       "Let measured intelligence drive optimization",
			Description: "Optimization choices follow measured behavior, never guesses about what should be slow",
			Category:    types.CategoryDecisionMaking,
			Conditions: []string{
				"task_success_rate < 0.90",
				"avg_response_time > 120",
			},
			Actions: []string{
				"collect evidence before changing configuration",
				"rank changes by measured impact",
			},
			Prior:     0.90,
			CreatedAt: now,
		},
		{
			ID:          "hierarchical_tool_organization",
			Title:       "Organize tools hierarchically",
			Description: "Tools arranged in layers reduce selection burden compared with flat catalogs",
			Category:    types.CategoryHierarchy,
			Conditions: []string{
				"unique_tools > 15",
				"context_switch_rate > 3",
			},
			Actions: []string{
				"group tools into categories with a small top level",
				"promote frequently used tools toward the root",
			},
			Prior:     0.85,
			CreatedAt: now,
		},
		{
			ID:          "dynamic_adaptation",
			Title:       "Adapt behavior from observed patterns",
			Description: "Recurring success patterns become defaults; recurring failures trigger reconfiguration",
			Category:    types.CategoryAdaptation,
			Conditions: []string{
				"tool_efficiency < 1.5",
			},
			Actions: []string{
				"promote recurring successful sequences to defaults",
				"retire configurations that repeatedly fail",
			},
			Prior:     0.80,
			CreatedAt: now,
		},
	}
}

// Seed installs the starting principles. Existing principles are left
// untouched, so seeding an already-initialized registry is a no-op for
// everything it has learned since.
func (r *Registry) Seed(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	installed := 0

	for _, p := range seedPrinciples(now) {
		_, err := r.storage.GetPrinciple(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, types.ErrNotFound) {
			return installed, err
		}

		if err := r.Upsert(ctx, p); err != nil {
			return installed, err
		}
		installed++
	}

	return installed, nil
}
