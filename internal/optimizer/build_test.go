package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/cost"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
)

func TestBuildScheduleCountsSmallEmergencyDisplacement(t *testing.T) {
	state := threePatientDay(at(8, 50))
	prev := &scheduler.OptimizedSchedule{
		DoctorID: "doc-1",
		Sequence: []scheduler.Patient{patient("p1", at(9, 0))},
		Timeline: []scheduler.TimelineEntry{{PatientID: "p1", PlannedStart: at(9, 0), PlannedEnd: at(9, 30)}},
	}
	// p1 slips 3 minutes, under the 5 minute threshold
	res := cost.Result{Projection: cost.Projection{Slots: []cost.Slot{
		{Patient: patient("p1", at(9, 0)), Start: at(9, 3), End: at(9, 33)},
	}}}

	er := patient("er", at(8, 50))
	er.Priority = scheduler.PriorityEmergency
	emergencyTrigger := scheduler.NewEvent("doc-1", "er", at(8, 50), scheduler.EmergencyInsert{Patient: er})
	sched := buildSchedule(state, Request{State: state, Params: testParams(), Previous: prev, Trigger: &emergencyTrigger}, res)

	c, ok := changeFor(sched, "p1")
	require.True(t, ok)
	assert.Equal(t, ReasonDisplaced, c.Reason)
	assert.True(t, c.Disruptive)
	assert.Equal(t, 1, patientIn(sched, "p1").CurrentReschedules)

	traffic := scheduler.NewEvent("doc-1", "p2", at(8, 50), scheduler.TrafficUpdate{TrafficDelayMinutes: 3})
	sched = buildSchedule(state, Request{State: state, Params: testParams(), Previous: prev, Trigger: &traffic}, res)

	c, ok = changeFor(sched, "p1")
	require.True(t, ok)
	assert.False(t, c.Disruptive, "small non-emergency shifts are free")
	assert.Zero(t, patientIn(sched, "p1").CurrentReschedules)
}
