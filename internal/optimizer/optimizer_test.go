package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func patient(id string, scheduled time.Time) scheduler.Patient {
	return scheduler.Patient{
		ID:               id,
		DoctorID:         "doc-1",
		Priority:         scheduler.PriorityNormal,
		Reason:           "consult",
		ScheduledTime:    scheduled,
		ETA:              scheduler.MustQuantiles(0, 0, 0),
		Duration:         scheduler.MustQuantiles(30, 30, 30),
		PunctualityScore: 0.8,
	}
}

func testParams() scheduler.Params {
	p := scheduler.DefaultParams()
	p.MinBufferMinutes = 0
	return p
}

func threePatientDay(now time.Time) scheduler.State {
	cfg := scheduler.DefaultDoctorConfig(day)
	cfg.EmergencyBufferMinutes = 10
	s := scheduler.NewState("doc-1", now, cfg)
	s.ScheduledQueue = []scheduler.Patient{
		patient("p1", at(9, 0)),
		patient("p2", at(9, 30)),
		patient("p3", at(10, 0)),
	}
	return s
}

func optimize(t *testing.T, req Request) *scheduler.OptimizedSchedule {
	t.Helper()
	sched, err := New(logging.Discard()).Optimize(context.Background(), req)
	require.NoError(t, err)
	return sched
}

func startOf(t *testing.T, s *scheduler.OptimizedSchedule, id string) time.Time {
	t.Helper()
	e, ok := s.Entry(id)
	require.True(t, ok, "no timeline entry for %s", id)
	return e.PlannedStart
}

func changeFor(s *scheduler.OptimizedSchedule, id string) (scheduler.Change, bool) {
	for _, c := range s.Changes {
		if c.PatientID == id {
			return c, true
		}
	}
	return scheduler.Change{}, false
}

func patientIn(s *scheduler.OptimizedSchedule, id string) scheduler.Patient {
	for _, p := range s.Sequence {
		if p.ID == id {
			return p
		}
	}
	return scheduler.Patient{}
}

func TestInitialSchedule(t *testing.T) {
	sched := optimize(t, Request{State: threePatientDay(at(8, 0)), Params: testParams()})

	assert.Equal(t, []string{"p1", "p2", "p3"}, sched.Order())
	assert.Equal(t, at(9, 0), startOf(t, sched, "p1"))
	assert.Equal(t, at(9, 30), startOf(t, sched, "p2"))
	assert.Equal(t, at(10, 0), startOf(t, sched, "p3"))
	assert.Len(t, sched.Changes, 3)
	for _, c := range sched.Changes {
		assert.Nil(t, c.OldTime)
		assert.Equal(t, ReasonAdded, c.Reason)
	}
	assert.Equal(t, 1.0, sched.Metrics.EmergencySLACompliance)
	assert.Zero(t, sched.Metrics.ExpectedOvertime)
}

func TestTrafficDelayReordersWaitingPatient(t *testing.T) {
	prev := optimize(t, Request{State: threePatientDay(at(8, 0)), Params: testParams()})

	state := threePatientDay(at(8, 40))
	delayed := state.ScheduledQueue[0]
	delayed.ETA = scheduler.MustQuantiles(20, 20, 20)
	early := state.ScheduledQueue[1]
	early.ArrivedAt = ptr(at(8, 35))
	state.ScheduledQueue = []scheduler.Patient{delayed, state.ScheduledQueue[2]}
	state.WaitingQueue = []scheduler.Patient{early}

	trigger := scheduler.NewEvent("doc-1", "p1", at(8, 40), scheduler.TrafficUpdate{TrafficDelayMinutes: 20})
	sched := optimize(t, Request{State: state, Params: testParams(), Previous: prev, Trigger: &trigger})

	assert.Equal(t, []string{"p2", "p1", "p3"}, sched.Order())
	assert.Equal(t, at(8, 40), startOf(t, sched, "p2"))
	assert.Equal(t, at(9, 20), startOf(t, sched, "p1"))
	assert.Equal(t, at(10, 0), startOf(t, sched, "p3"))

	c1, ok := changeFor(sched, "p1")
	require.True(t, ok)
	assert.Equal(t, ReasonTrafficReorder, c1.Reason)
	assert.Equal(t, at(9, 0), *c1.OldTime)
	assert.Equal(t, 20.0, c1.ShiftMinutes)
	assert.True(t, c1.Disruptive)
	assert.Equal(t, 1, patientIn(sched, "p1").CurrentReschedules)

	c2, ok := changeFor(sched, "p2")
	require.True(t, ok)
	assert.Equal(t, ReasonTrafficReorder, c2.Reason)
	assert.False(t, c2.Disruptive, "seeing a present patient sooner is not a reschedule")

	_, ok = changeFor(sched, "p3")
	assert.False(t, ok)
}

func TestEmergencyInsertMeetsSLA(t *testing.T) {
	prev := optimize(t, Request{State: threePatientDay(at(8, 0)), Params: testParams()})

	state := threePatientDay(at(8, 45))
	er := patient("er", at(8, 45))
	er.Priority = scheduler.PriorityEmergency
	er.ArrivedAt = ptr(at(8, 45))
	state.WaitingQueue = append(state.WaitingQueue, er)

	trigger := scheduler.NewEvent("doc-1", "er", at(8, 45), scheduler.EmergencyInsert{Patient: er})
	sched := optimize(t, Request{State: state, Params: testParams(), Previous: prev, Trigger: &trigger})

	assert.Equal(t, "er", sched.Order()[0])
	assert.LessOrEqual(t, scheduler.MinutesBetween(at(8, 45), startOf(t, sched, "er")), 15.0)
	assert.Equal(t, 1.0, sched.Metrics.EmergencySLACompliance)

	c, ok := changeFor(sched, "er")
	require.True(t, ok)
	assert.Nil(t, c.OldTime)
	assert.Equal(t, ReasonEmergencyInsert, c.Reason)

	for _, id := range []string{"p1", "p2", "p3"} {
		c, ok := changeFor(sched, id)
		require.True(t, ok, id)
		assert.Equal(t, ReasonDisplaced, c.Reason)
		assert.True(t, c.Disruptive)
		assert.Equal(t, 1, patientIn(sched, id).CurrentReschedules, id)
	}
}

func TestEmergencyInsertUsesIdleGap(t *testing.T) {
	prev := optimize(t, Request{State: threePatientDay(at(8, 0)), Params: testParams()})

	state := threePatientDay(at(9, 25))
	first := state.ScheduledQueue[0]
	first.ArrivedAt = ptr(at(8, 55))
	state.CurrentConsultation = &scheduler.Consultation{Patient: first, StartedAt: at(9, 0), EstimatedEnd: at(9, 30)}
	state.ScheduledQueue = state.ScheduledQueue[1:]
	state.ScheduledQueue[0].ScheduledTime = at(10, 0)
	state.ScheduledQueue[1].ScheduledTime = at(10, 30)
	prev.Timeline[1].PlannedStart = at(10, 0)
	prev.Timeline[2].PlannedStart = at(10, 30)

	er := patient("er", at(9, 25))
	er.Priority = scheduler.PriorityEmergency
	er.ArrivedAt = ptr(at(9, 25))
	state.WaitingQueue = []scheduler.Patient{er}

	trigger := scheduler.NewEvent("doc-1", "er", at(9, 25), scheduler.EmergencyInsert{Patient: er})
	sched := optimize(t, Request{State: state, Params: testParams(), Previous: prev, Trigger: &trigger})

	assert.Equal(t, []string{"p1", "er", "p2", "p3"}, sched.Order())
	assert.Equal(t, at(9, 30), startOf(t, sched, "er"))
	assert.Equal(t, at(10, 0), startOf(t, sched, "p2"))
	assert.Equal(t, at(10, 30), startOf(t, sched, "p3"))
	require.Len(t, sched.Changes, 1, "nobody is displaced when the emergency fits a gap")
	assert.Equal(t, ReasonEmergencyInsert, sched.Changes[0].Reason)
	assert.Zero(t, patientIn(sched, "p2").CurrentReschedules)
}

func TestEmergencyInsertReportsUnmetSLA(t *testing.T) {
	state := threePatientDay(at(9, 5))
	state.ScheduledQueue = state.ScheduledQueue[1:]
	first := patient("p1", at(9, 0))
	first.ArrivedAt = ptr(at(8, 58))
	state.CurrentConsultation = &scheduler.Consultation{Patient: first, StartedAt: at(9, 0), EstimatedEnd: at(9, 40)}

	er := patient("er", at(9, 5))
	er.Priority = scheduler.PriorityEmergency
	er.ArrivedAt = ptr(at(9, 5))
	state.WaitingQueue = []scheduler.Patient{er}

	trigger := scheduler.NewEvent("doc-1", "er", at(9, 5), scheduler.EmergencyInsert{Patient: er})
	sched := optimize(t, Request{State: state, Params: testParams(), Trigger: &trigger})

	assert.Equal(t, at(9, 40), startOf(t, sched, "er"), "next free moment after the consultation")
	assert.Less(t, sched.Metrics.EmergencySLACompliance, 1.0)
}

func TestNoShowShiftsOnlyWhenIdleDrops(t *testing.T) {
	prev := optimize(t, Request{State: threePatientDay(at(8, 0)), Params: testParams()})

	base := threePatientDay(at(9, 20))
	first := base.ScheduledQueue[0]
	first.ArrivedAt = ptr(at(8, 55))
	trigger := scheduler.NewEvent("doc-1", "p2", at(9, 20), scheduler.NoShow{ConfirmedNoShow: true})

	t.Run("absent patient keeps their slot", func(t *testing.T) {
		state := base.Clone()
		state.CurrentConsultation = &scheduler.Consultation{Patient: first, StartedAt: at(9, 0), EstimatedEnd: at(9, 30)}
		state.ScheduledQueue = []scheduler.Patient{base.ScheduledQueue[2]}

		sched := optimize(t, Request{State: state, Params: testParams(), Previous: prev, Trigger: &trigger})
		assert.Equal(t, []string{"p1", "p3"}, sched.Order())
		assert.Equal(t, at(10, 0), startOf(t, sched, "p3"))
		assert.Empty(t, sched.Changes)
	})

	t.Run("present patient moves into the freed slot", func(t *testing.T) {
		state := base.Clone()
		state.CurrentConsultation = &scheduler.Consultation{Patient: first, StartedAt: at(9, 0), EstimatedEnd: at(9, 30)}
		third := base.ScheduledQueue[2]
		third.ArrivedAt = ptr(at(9, 15))
		state.ScheduledQueue = nil
		state.WaitingQueue = []scheduler.Patient{third}

		sched := optimize(t, Request{State: state, Params: testParams(), Previous: prev, Trigger: &trigger})
		assert.Equal(t, at(9, 30), startOf(t, sched, "p3"))
		c, ok := changeFor(sched, "p3")
		require.True(t, ok)
		assert.Equal(t, ReasonNoShow, c.Reason)
		assert.Equal(t, -30.0, c.ShiftMinutes)
		assert.False(t, c.Disruptive)
		assert.Zero(t, patientIn(sched, "p3").CurrentReschedules)
	})
}

func TestLockedAndCappedPatientsKeepCommittedTime(t *testing.T) {
	prev := optimize(t, Request{State: threePatientDay(at(8, 0)), Params: testParams()})

	state := threePatientDay(at(8, 30))
	state.ScheduledQueue[0].ETA = scheduler.MustQuantiles(45, 45, 45)
	state.ScheduledQueue[0].Locked = true
	state.ScheduledQueue[1].CurrentReschedules = 2
	er := patient("er", at(8, 30))
	er.Priority = scheduler.PriorityEmergency
	er.ArrivedAt = ptr(at(8, 30))
	state.WaitingQueue = []scheduler.Patient{er}

	trigger := scheduler.NewEvent("doc-1", "er", at(8, 30), scheduler.EmergencyInsert{Patient: er})
	sched := optimize(t, Request{State: state, Params: testParams(), Previous: prev, Trigger: &trigger})

	assert.Equal(t, at(9, 0), startOf(t, sched, "p1"))
	assert.Equal(t, at(9, 30), startOf(t, sched, "p2"))
	assert.Equal(t, at(8, 30), startOf(t, sched, "er"))
	assert.LessOrEqual(t, patientIn(sched, "p2").CurrentReschedules, 2)
}

func TestQuietWindowHoldsExceptForEmergencies(t *testing.T) {
	prev := optimize(t, Request{State: threePatientDay(at(8, 0)), Params: testParams()})

	state := threePatientDay(at(8, 50))
	state.ScheduledQueue[0].ETA = scheduler.MustQuantiles(25, 25, 25)
	trigger := scheduler.NewEvent("doc-1", "p1", at(8, 50), scheduler.TrafficUpdate{TrafficDelayMinutes: 25})

	sched := optimize(t, Request{State: state, Params: testParams(), Previous: prev, Trigger: &trigger})
	assert.Equal(t, at(9, 0), startOf(t, sched, "p1"), "p1 is 10 minutes out and may not be moved")
}

func TestCapacityOverflowIsReported(t *testing.T) {
	cfg := scheduler.DefaultDoctorConfig(day)
	state := scheduler.NewState("doc-1", at(15, 0), cfg)
	for i := 0; i < 8; i++ {
		p := patient(string(rune('a'+i)), at(15, 0))
		state.ScheduledQueue = append(state.ScheduledQueue, p)
	}
	sched := optimize(t, Request{State: state, Params: testParams()})

	assert.Len(t, sched.Sequence, 8)
	assert.Greater(t, sched.Metrics.ExpectedOvertime, 60.0)
	assert.NotEmpty(t, sched.Metrics.OverflowPatients)
}

func TestOptimizeRejectsInvalidInput(t *testing.T) {
	state := threePatientDay(at(8, 0))
	state.WaitingQueue = []scheduler.Patient{patient("p1", at(9, 0))}
	_, err := New(nil).Optimize(context.Background(), Request{State: state, Params: testParams()})
	assert.ErrorIs(t, err, scheduler.ErrDuplicatePatient)

	bad := testParams()
	bad.ETAQuantile = 2
	_, err = New(nil).Optimize(context.Background(), Request{State: threePatientDay(at(8, 0)), Params: bad})
	assert.ErrorIs(t, err, scheduler.ErrInvalidParams)
}

func TestOptimizeDoesNotMutateInput(t *testing.T) {
	state := threePatientDay(at(8, 0))
	snapshot := state.Clone()
	sched := optimize(t, Request{State: state, Params: testParams()})
	sched.Sequence[0].CurrentReschedules = 9

	assert.Equal(t, snapshot, state)
}

func TestExhaustedBudgetStillReturnsFullSchedule(t *testing.T) {
	state := scheduler.NewState("doc-1", at(8, 0), scheduler.DefaultDoctorConfig(day))
	for i := 0; i < 20; i++ {
		state.ScheduledQueue = append(state.ScheduledQueue, patient(string(rune('A'+i)), at(8, 0).Add(time.Duration(i)*20*time.Minute)))
	}
	params := testParams()
	params.OptimizationBudget = time.Nanosecond

	sched := optimize(t, Request{State: state, Params: params})
	assert.Len(t, sched.Sequence, 20)
}
