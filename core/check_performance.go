package core

// Grade breakpoints in milliseconds of total response time
var gradeBreakpoints = []struct {
	limitMS int64
	grade   string
}{
	{500, "A"},
	{1000, "B"},
	{2000, "C"},
	{3000, "D"},
}

// PerformanceGrade maps a total response time to a letter grade
func PerformanceGrade(totalMS int64) string {
	for _, bp := range gradeBreakpoints {
		if totalMS <= bp.limitMS {
			return bp.grade
		}
	}
	return "F"
}

// PerformanceStrategy grades response time and reports the phase breakdown
type PerformanceStrategy struct{}

func (PerformanceStrategy) Kind() CheckKind              { return CheckKindPerformance }
func (PerformanceStrategy) BodyLimit(CheckConfig) int64 { return 0 }

func (PerformanceStrategy) Evaluate(probe *ProbeResponse, cfg CheckConfig) (CheckStatus, map[string]interface{}, error) {
	pc, _ := cfg.(PerformanceConfig)
	total := probe.Timings.Total
	details := map[string]interface{}{
		"grade":         PerformanceGrade(total),
		"within_budget": pc.BudgetMS == 0 || total <= int64(pc.BudgetMS),
	}
	if pc.BudgetMS > 0 {
		details["budget_ms"] = pc.BudgetMS
	}
	return httpOutcome(probe, nil), details, nil
}
