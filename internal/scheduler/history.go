package scheduler

import "time"

// ArrivalRecord is one observed arrival.
type ArrivalRecord struct {
	PatientID         string    `json:"patient_id"`
	DoctorID          string    `json:"doctor_id"`
	ScheduledTime     time.Time `json:"scheduled_time"`
	ActualArrival     time.Time `json:"actual_arrival"`
	DistanceKm        float64   `json:"distance_km"`
	TrafficConditions string    `json:"traffic_conditions,omitempty"`
	Weather           string    `json:"weather,omitempty"`
}

// DelayMinutes is how late (positive) or early (negative) the patient arrived.
func (r ArrivalRecord) DelayMinutes() float64 {
	return MinutesBetween(r.ScheduledTime, r.ActualArrival)
}

// DurationRecord is one observed consultation length.
type DurationRecord struct {
	PatientID       string         `json:"patient_id"`
	DoctorID        string         `json:"doctor_id"`
	Reason          string         `json:"reason"`
	PlannedMinutes  float64        `json:"planned_minutes"`
	ActualMinutes   float64        `json:"actual_minutes"`
	Characteristics map[string]any `json:"patient_characteristics,omitempty"`
	RecordedAt      time.Time      `json:"recorded_at"`
}

// NoShowRecord is one scheduled appointment and whether the patient came.
type NoShowRecord struct {
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	NoShow        bool      `json:"no_show"`
	Factors       []string  `json:"factors,omitempty"`
}

// HistoricalData is the calibration input of the prediction models.
type HistoricalData struct {
	Arrivals  []ArrivalRecord  `json:"arrival_times"`
	Durations []DurationRecord `json:"consultation_durations"`
	NoShows   []NoShowRecord   `json:"no_shows"`
}
