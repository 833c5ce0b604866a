package prediction

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

// Keywords are matched after lowercasing and stripping diacritics.
var (
	emergencyKeywords = []string{
		"dor no peito", "chest pain", "falta de ar", "shortness of breath",
		"desmaio", "fainting", "inconsciente", "unconscious", "avc", "stroke",
		"convulsao", "seizure", "sangramento intenso", "severe bleeding",
		"infarto", "heart attack", "parada cardiaca", "cardiac arrest",
	}
	highKeywords = []string{
		"febre alta", "high fever", "dor intensa", "severe pain", "vomito",
		"vomiting", "fratura", "fracture", "infeccao", "infection",
		"reacao alergica", "allergic reaction",
	}
)

// Vitals are the signs a triage nurse may have captured.
type Vitals struct {
	TemperatureC float64
	HeartRate    float64
	SystolicBP   float64
}

// Classification is a suggested priority with a confidence in [0,1].
type Classification struct {
	Priority   scheduler.Priority
	Confidence float64
	Reasons    []string
}

// PriorityClassifier suggests a clinical priority from symptoms, vitals and age.
type PriorityClassifier struct {
	// EscalateAfterMinutes is the waiting time after which Reclassify bumps a
	// patient one level.
	EscalateAfterMinutes float64
}

func NewPriorityClassifier() *PriorityClassifier {
	return &PriorityClassifier{EscalateAfterMinutes: 60}
}

// Classify evaluates the rules from most to least severe; the first match wins.
func (c *PriorityClassifier) Classify(symptoms string, vitals *Vitals, age *float64) Classification {
	text := fold(symptoms)
	if kw, ok := containsAny(text, emergencyKeywords); ok {
		return Classification{Priority: scheduler.PriorityEmergency, Confidence: 0.9, Reasons: []string{"emergency symptom: " + kw}}
	}
	if vitals != nil {
		switch {
		case vitals.TemperatureC > 39.5, vitals.HeartRate > 120, vitals.SystolicBP > 180:
			return Classification{Priority: scheduler.PriorityEmergency, Confidence: 0.85, Reasons: []string{"critical vital signs"}}
		case vitals.TemperatureC > 38.5, vitals.HeartRate > 100, vitals.SystolicBP > 160:
			return Classification{Priority: scheduler.PriorityHigh, Confidence: 0.8, Reasons: []string{"elevated vital signs"}}
		}
	}
	if kw, ok := containsAny(text, highKeywords); ok {
		return Classification{Priority: scheduler.PriorityHigh, Confidence: 0.75, Reasons: []string{"urgent symptom: " + kw}}
	}
	if age != nil && (*age >= 65 || *age <= 2) {
		return Classification{Priority: scheduler.PriorityHigh, Confidence: 0.6, Reasons: []string{"age risk group"}}
	}
	return Classification{Priority: scheduler.PriorityNormal, Confidence: 0.7, Reasons: []string{"no risk factors"}}
}

// ClassifyPatient reads reason, vitals and age from a patient record.
func (c *PriorityClassifier) ClassifyPatient(p scheduler.Patient) Classification {
	var vitals *Vitals
	temp, hasTemp := number(p.Characteristics["temperature"])
	hr, hasHR := number(p.Characteristics["heart_rate"])
	sbp, hasBP := number(p.Characteristics["systolic_bp"])
	if hasTemp || hasHR || hasBP {
		vitals = &Vitals{TemperatureC: temp, HeartRate: hr, SystolicBP: sbp}
	}
	var age *float64
	if a, ok := number(p.Characteristics["age"]); ok {
		age = &a
	}
	symptoms := p.Reason
	if s, ok := p.Characteristics["symptoms"].(string); ok {
		symptoms += " " + s
	}
	return c.Classify(symptoms, vitals, age)
}

// Reclassify escalates a waiting patient one level once they have waited
// longer than EscalateAfterMinutes. Emergency and high are never changed.
func (c *PriorityClassifier) Reclassify(current scheduler.Priority, waitedMinutes float64) scheduler.Priority {
	if waitedMinutes <= c.EscalateAfterMinutes {
		return current
	}
	switch current {
	case scheduler.PriorityNormal:
		return scheduler.PriorityHigh
	case scheduler.PriorityLow:
		return scheduler.PriorityNormal
	}
	return current
}

func containsAny(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// fold lowercases s and strips combining marks ("Convulsão" -> "convulsao").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
