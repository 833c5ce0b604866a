package prediction

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

const minDurationSamples = 3

const (
	ReasonCheckup   = "checkup"
	ReasonFollowup  = "followup"
	ReasonProcedure = "procedure"
	ReasonConsult   = "consult"
	ReasonEmergency = "emergency"
)

var durationPriors = map[string]scheduler.QuantileDistribution{
	ReasonCheckup:   scheduler.MustQuantiles(20, 25, 35),
	ReasonFollowup:  scheduler.MustQuantiles(15, 20, 30),
	ReasonProcedure: scheduler.MustQuantiles(40, 50, 70),
	ReasonConsult:   scheduler.MustQuantiles(30, 40, 55),
	ReasonEmergency: scheduler.MustQuantiles(25, 35, 60),
}

var reasonAliases = map[string]string{
	"check-up":     ReasonCheckup,
	"check up":     ReasonCheckup,
	"rotina":       ReasonCheckup,
	"follow-up":    ReasonFollowup,
	"follow up":    ReasonFollowup,
	"retorno":      ReasonFollowup,
	"procedimento": ReasonProcedure,
	"exame":        ReasonProcedure,
	"consulta":     ReasonConsult,
	"consultation": ReasonConsult,
	"emergencia":   ReasonEmergency,
	"urgencia":     ReasonEmergency,
}

// NormalizeReason maps free-form reasons onto the prior table keys.
// Unrecognised reasons are returned folded but otherwise unchanged.
func NormalizeReason(reason string) string {
	r := fold(reason)
	if _, ok := durationPriors[r]; ok {
		return r
	}
	if alias, ok := reasonAliases[r]; ok {
		return alias
	}
	return r
}

// ReasonVariants lists the lowercase spellings that normalize to the same
// reason as the given one, for matching stored free-form reasons.
func ReasonVariants(reason string) []string {
	key := NormalizeReason(reason)
	set := map[string]bool{key: true}
	if raw := strings.ToLower(strings.TrimSpace(reason)); raw != "" {
		set[raw] = true
	}
	for alias, target := range reasonAliases {
		if target == key {
			set[alias] = true
		}
	}
	delete(set, "")
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// DurationInput carries the signals behind one consultation-length prediction.
type DurationInput struct {
	Reason          string
	DoctorID        string
	Characteristics map[string]any
}

// PredictDuration estimates consultation minutes, preferring the doctor's own
// history for the reason, then all doctors for the reason, then a fixed prior.
func PredictDuration(in DurationInput, history []scheduler.DurationRecord) scheduler.QuantileDistribution {
	reason := NormalizeReason(in.Reason)

	var sameDoctor, sameReason []float64
	for _, r := range history {
		if r.ActualMinutes <= 0 || math.IsNaN(r.ActualMinutes) || math.IsInf(r.ActualMinutes, 0) {
			continue
		}
		if NormalizeReason(r.Reason) != reason {
			continue
		}
		sameReason = append(sameReason, r.ActualMinutes)
		if r.DoctorID == in.DoctorID {
			sameDoctor = append(sameDoctor, r.ActualMinutes)
		}
	}

	d, ok := empirical(sameDoctor, minDurationSamples)
	if !ok {
		d, ok = empirical(sameReason, minDurationSamples)
	}
	if !ok {
		d, ok = durationPriors[reason]
		if !ok {
			d = durationPriors[ReasonConsult]
		}
	}
	return d.Scale(characteristicsFactor(in.Characteristics))
}

func characteristicsFactor(c map[string]any) float64 {
	f := 1.0
	if age, ok := number(c["age"]); ok && age >= 65 {
		f *= 1.1
	}
	if truthy(c["first_visit"]) {
		f *= 1.15
	}
	return f
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(strings.TrimSpace(b))
		return ok
	}
	return false
}
