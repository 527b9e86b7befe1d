package registry

import (
	"context"
	"fmt"
)

// StaticPlanLimits is a map-backed PlanLimits provider. Production wires the
// billing service here; the defaults cover local development and tests.
type StaticPlanLimits struct {
	Limits  map[string]PlanLimit
	Default PlanLimit
}

func DefaultPlanLimits() *StaticPlanLimits {
	return &StaticPlanLimits{
		Limits: map[string]PlanLimit{
			"starter": {FrequencyMinutes: 1440},
			"growth":  {FrequencyMinutes: 360},
			"pro":     {FrequencyMinutes: 60},
		},
		Default: PlanLimit{FrequencyMinutes: 1440},
	}
}

func (s *StaticPlanLimits) GetLimits(_ context.Context, planID string) (PlanLimit, error) {
	if planID == "" {
		return s.Default, nil
	}
	limit, ok := s.Limits[planID]
	if !ok {
		return PlanLimit{}, fmt.Errorf("unknown plan %q", planID)
	}
	return limit, nil
}
