package prediction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

func TestClassify(t *testing.T) {
	c := NewPriorityClassifier()
	age := func(v float64) *float64 { return &v }

	tests := []struct {
		name       string
		symptoms   string
		vitals     *Vitals
		age        *float64
		want       scheduler.Priority
		confidence float64
	}{
		{"portuguese emergency keyword", "Paciente com DOR NO PEITO", nil, nil, scheduler.PriorityEmergency, 0.9},
		{"accented keyword", "Convulsão há 10 minutos", nil, nil, scheduler.PriorityEmergency, 0.9},
		{"english emergency keyword", "sudden shortness of breath", nil, nil, scheduler.PriorityEmergency, 0.9},
		{"critical fever", "", &Vitals{TemperatureC: 40}, nil, scheduler.PriorityEmergency, 0.85},
		{"tachycardia", "", &Vitals{HeartRate: 110}, nil, scheduler.PriorityHigh, 0.8},
		{"high keyword", "febre alta desde ontem", nil, nil, scheduler.PriorityHigh, 0.75},
		{"elderly", "rotina", nil, age(80), scheduler.PriorityHigh, 0.6},
		{"infant", "rotina", nil, age(1), scheduler.PriorityHigh, 0.6},
		{"default", "renovar receita", &Vitals{TemperatureC: 36.5, HeartRate: 70, SystolicBP: 120}, age(30), scheduler.PriorityNormal, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.symptoms, tt.vitals, tt.age)
			assert.Equal(t, tt.want, got.Priority)
			assert.Equal(t, tt.confidence, got.Confidence)
			assert.NotEmpty(t, got.Reasons)
		})
	}
}

func TestClassifyPatientReadsCharacteristics(t *testing.T) {
	c := NewPriorityClassifier()
	p := scheduler.Patient{
		ID:              "p1",
		Reason:          "consulta",
		Characteristics: map[string]any{"systolic_bp": 185.0, "age": 50},
	}
	assert.Equal(t, scheduler.PriorityEmergency, c.ClassifyPatient(p).Priority)
}

func TestReclassify(t *testing.T) {
	c := NewPriorityClassifier()
	assert.Equal(t, scheduler.PriorityNormal, c.Reclassify(scheduler.PriorityNormal, 30))
	assert.Equal(t, scheduler.PriorityHigh, c.Reclassify(scheduler.PriorityNormal, 61))
	assert.Equal(t, scheduler.PriorityNormal, c.Reclassify(scheduler.PriorityLow, 90))
	assert.Equal(t, scheduler.PriorityHigh, c.Reclassify(scheduler.PriorityHigh, 500))
}
