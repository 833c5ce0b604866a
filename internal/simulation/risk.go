package simulation

import (
	"fmt"
	"strings"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

const (
	tightGapMinutes       = 5.0
	tightGapRisk          = 0.8
	lateStartProbability  = 0.5
	bottleneckSpread      = 20.0
	overtimeActionMinutes = 30.0
	overtimeActionChance  = 0.2
	maxRiskPeriods        = 3
)

func (s *Simulator) assessRisk(sched *scheduler.OptimizedSchedule, plan []planned, outcomes []outcome, m Metrics) RiskAssessment {
	risk := RiskAssessment{
		HighRiskPeriods:    []RiskPeriod{},
		BottleneckPatients: []string{},
		RecommendedActions: []string{},
	}

	for i := 0; i+1 < len(sched.Timeline); i++ {
		cur, next := sched.Timeline[i], sched.Timeline[i+1]
		if scheduler.MinutesBetween(cur.PlannedEnd, next.PlannedStart) < tightGapMinutes {
			risk.HighRiskPeriods = append(risk.HighRiskPeriods, RiskPeriod{
				Start:      cur.PlannedStart,
				End:        next.PlannedEnd,
				RiskFactor: tightGapRisk,
				Reason:     fmt.Sprintf("tight gap between %s and %s", cur.PatientID, next.PatientID),
			})
		}
	}

	if len(outcomes) > 0 {
		for i, pl := range plan {
			late := 0
			for _, o := range outcomes {
				if o.late[i] {
					late++
				}
			}
			if prob := float64(late) / float64(len(outcomes)); prob >= lateStartProbability {
				risk.HighRiskPeriods = append(risk.HighRiskPeriods, RiskPeriod{
					Start:      pl.entry.PlannedStart,
					End:        pl.entry.PlannedEnd,
					RiskFactor: prob,
					Reason:     fmt.Sprintf("%s likely to start late", pl.patient.ID),
				})
			}
		}
	}

	for _, p := range sched.Sequence {
		if p.Duration.P95()-p.Duration.P50() > bottleneckSpread {
			risk.BottleneckPatients = append(risk.BottleneckPatients, p.ID)
		}
	}

	if m.AverageOvertimeMinutes > overtimeActionMinutes {
		risk.RecommendedActions = append(risk.RecommendedActions, "consider fewer consultations or larger buffers")
	}
	if m.OvertimeProbability > overtimeActionChance {
		risk.RecommendedActions = append(risk.RecommendedActions, "high overtime probability, review the day")
	}
	if len(risk.HighRiskPeriods) > maxRiskPeriods {
		risk.RecommendedActions = append(risk.RecommendedActions, "many high-risk periods, add buffers between consultations")
	}
	if m.EmergencySLAViolations > 0 {
		risk.RecommendedActions = append(risk.RecommendedActions, "emergency SLA at risk, keep the emergency reserve free")
	}
	if ids := sched.Metrics.OverflowPatients; len(ids) > 0 {
		risk.RecommendedActions = append(risk.RecommendedActions,
			fmt.Sprintf("capacity exceeded: %s end after clinic hours plus overtime", strings.Join(ids, ", ")))
	}
	if ids := sched.Metrics.WindowViolations; len(ids) > 0 {
		risk.RecommendedActions = append(risk.RecommendedActions,
			fmt.Sprintf("availability windows cannot be honoured for %s", strings.Join(ids, ", ")))
	}
	return risk
}

// Limits bound what a caller is willing to accept from a simulated schedule.
type Limits struct {
	MaxP95DelayMinutes        float64
	MaxOvertimeProbability    float64
	MaxEmergencySLAViolations float64
}

func DefaultLimits() Limits {
	return Limits{
		MaxP95DelayMinutes:        90,
		MaxOvertimeProbability:    0.5,
		MaxEmergencySLAViolations: 0.25,
	}
}

// Acceptable reports whether res stays inside limits. The returned reasons
// list every breached limit.
func Acceptable(res *Result, limits Limits) (bool, []string) {
	if res == nil {
		return true, nil
	}
	var reasons []string
	m := res.Metrics
	if m.P95DelayMinutes > limits.MaxP95DelayMinutes {
		reasons = append(reasons, fmt.Sprintf("p95 delay %.1f > %.1f", m.P95DelayMinutes, limits.MaxP95DelayMinutes))
	}
	if m.OvertimeProbability > limits.MaxOvertimeProbability {
		reasons = append(reasons, fmt.Sprintf("overtime probability %.2f > %.2f", m.OvertimeProbability, limits.MaxOvertimeProbability))
	}
	if m.EmergencySLAViolations > limits.MaxEmergencySLAViolations {
		reasons = append(reasons, fmt.Sprintf("emergency violations %.2f > %.2f", m.EmergencySLAViolations, limits.MaxEmergencySLAViolations))
	}
	return len(reasons) == 0, reasons
}
