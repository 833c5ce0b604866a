package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCloneIsDeep(t *testing.T) {
	cfg := DefaultDoctorConfig(day)
	s := NewState("doc-1", at(8, 0), cfg)
	p := testPatient("p1", at(9, 0))
	p.Characteristics = map[string]any{"age": 70}
	s.ScheduledQueue = append(s.ScheduledQueue, p)
	s.CurrentConsultation = &Consultation{Patient: testPatient("p0", at(8, 0)), StartedAt: at(8, 0), EstimatedEnd: at(8, 30)}

	c := s.Clone()
	c.ScheduledQueue[0].Characteristics["age"] = 20
	c.ScheduledQueue[0].Priority = PriorityLow
	c.CurrentConsultation.Patient.ID = "changed"
	c.DoctorConfig.Breaks[0].Start = at(14, 0)

	assert.Equal(t, 70, s.ScheduledQueue[0].Characteristics["age"])
	assert.Equal(t, PriorityNormal, s.ScheduledQueue[0].Priority)
	assert.Equal(t, "p0", s.CurrentConsultation.Patient.ID)
	assert.Equal(t, at(12, 0), s.DoctorConfig.Breaks[0].Start)
}

func TestStateValidateRejectsDuplicates(t *testing.T) {
	s := NewState("doc-1", at(8, 0), DefaultDoctorConfig(day))
	s.WaitingQueue = []Patient{testPatient("p1", at(9, 0))}
	s.ScheduledQueue = []Patient{testPatient("p1", at(9, 30))}

	assert.ErrorIs(t, s.Validate(), ErrDuplicatePatient)

	s.ScheduledQueue[0].ID = "p2"
	assert.NoError(t, s.Validate())
}

func TestStateFindRemoveUpdate(t *testing.T) {
	s := NewState("doc-1", at(8, 0), DefaultDoctorConfig(day))
	s.WaitingQueue = []Patient{testPatient("w1", at(9, 0))}
	s.ScheduledQueue = []Patient{testPatient("s1", at(9, 30)), testPatient("s2", at(10, 0))}

	_, kind, ok := s.Find("s1")
	require.True(t, ok)
	assert.Equal(t, QueueScheduled, kind)

	snapshot := s.Clone()
	removed, ok := s.Remove("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", removed.ID)
	assert.Len(t, s.ScheduledQueue, 1)
	assert.Len(t, snapshot.ScheduledQueue, 2, "removal must not leak into earlier snapshots")

	w := testPatient("w1", at(9, 0))
	w.PunctualityScore = 0.1
	require.True(t, s.Update(w))
	got, kind, _ := s.Find("w1")
	assert.Equal(t, QueueWaiting, kind)
	assert.Equal(t, 0.1, got.PunctualityScore)

	assert.False(t, s.Update(testPatient("ghost", at(9, 0))))
}

func TestDoctorConfigNextStartSkipsBreaks(t *testing.T) {
	cfg := DefaultDoctorConfig(day)

	assert.Equal(t, at(11, 0), cfg.NextStart(at(11, 0), 30))
	assert.Equal(t, at(13, 0), cfg.NextStart(at(11, 45), 30))
	assert.Equal(t, at(13, 0), cfg.NextStart(at(12, 10), 10))
	assert.Equal(t, 60.0, cfg.BreakMinutes(at(11, 0), at(14, 0)))
	assert.Equal(t, 30.0, cfg.BreakMinutes(at(12, 30), at(14, 0)))
	assert.Equal(t, at(18, 0), cfg.HardEnd())
}

func TestPatientValidate(t *testing.T) {
	ok := testPatient("p1", at(9, 0))
	require.NoError(t, ok.Validate())

	bad := []func(p *Patient){
		func(p *Patient) { p.ID = "" },
		func(p *Patient) { p.Priority = 0 },
		func(p *Patient) { p.NoShowProbability = 1.2 },
		func(p *Patient) { p.PunctualityScore = -0.1 },
		func(p *Patient) { p.MaxReschedulesToday = intPtr(1); p.CurrentReschedules = 2 },
		func(p *Patient) { p.MaxReschedulesToday = intPtr(0); p.CurrentReschedules = 1 },
		func(p *Patient) { p.MaxReschedulesToday = intPtr(-1) },
		func(p *Patient) { p.AvailabilityWindow = &Window{Earliest: at(10, 0), Latest: at(9, 0)} },
	}
	for i, mutate := range bad {
		p := ok.Clone()
		mutate(&p)
		assert.ErrorIs(t, p.Validate(), ErrInvalidPatient, "case %d", i)
	}
}

func TestPatientExpectedArrival(t *testing.T) {
	p := testPatient("p1", at(9, 0))
	assert.Equal(t, at(9, 5), p.ExpectedArrival(0.8))

	arrived := at(8, 50)
	p.ArrivedAt = &arrived
	assert.Equal(t, arrived, p.ExpectedArrival(0.8))
	assert.True(t, p.Arrived())
}

func TestRescheduleCap(t *testing.T) {
	p := testPatient("p1", at(9, 0))
	p.CurrentReschedules = 2
	assert.True(t, p.AtRescheduleCap(2))
	assert.False(t, p.AtRescheduleCap(3))

	p.MaxReschedulesToday = intPtr(4)
	assert.False(t, p.AtRescheduleCap(2))
}

func TestRescheduleCapZeroMeansNever(t *testing.T) {
	p := testPatient("p1", at(9, 0))
	p.MaxReschedulesToday = intPtr(0)
	require.NoError(t, p.Validate())
	assert.Equal(t, 0, p.RescheduleLimit(2))
	assert.True(t, p.AtRescheduleCap(2), "an explicit zero pins the patient")

	p.MaxReschedulesToday = nil
	assert.Equal(t, 2, p.RescheduleLimit(2))
	assert.False(t, p.AtRescheduleCap(2))
}

func TestPatientCloneCopiesRescheduleCap(t *testing.T) {
	p := testPatient("p1", at(9, 0))
	p.MaxReschedulesToday = intPtr(1)
	c := p.Clone()
	*c.MaxReschedulesToday = 3
	assert.Equal(t, 1, *p.MaxReschedulesToday)
}

func intPtr(v int) *int { return &v }
