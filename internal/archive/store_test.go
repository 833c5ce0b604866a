package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/engine"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

type mockS3Client struct {
	objects map[string][]byte
	puts    []string
	getErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.puts = append(m.puts, *input.Key)
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func dayRecord(doctorID string) engine.DayRecord {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	state := scheduler.NewState(doctorID, day.Add(18*time.Hour), scheduler.DefaultDoctorConfig(day))
	state.ScheduledQueue = []scheduler.Patient{{ID: "p1", DoctorID: doctorID, Priority: scheduler.PriorityNormal, ScheduledTime: day.Add(9 * time.Hour)}}
	return engine.DayRecord{
		DoctorID: doctorID,
		Day:      "2026-03-10",
		State:    state,
		Schedule: &scheduler.OptimizedSchedule{DoctorID: doctorID, Metrics: scheduler.Metrics{TotalCost: 12.5}},
		Stats:    engine.Stats{DoctorID: doctorID, OptimizationsTotal: 4},
	}
}

func TestArchiveDay(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "archive-bucket", logging.Discard())
	store.now = func() time.Time { return time.Date(2026, 3, 11, 0, 10, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, store.ArchiveDay(ctx, dayRecord("doc-1")))
	require.NoError(t, store.ArchiveDay(ctx, dayRecord("doc-2")))

	body, ok := mock.objects["scheduler/v1/by-date/2026/03/10/doc-1.json"]
	require.True(t, ok)
	var rec Record
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, "doc-1", rec.DoctorID)
	assert.Equal(t, 4, rec.Stats.OptimizationsTotal)
	assert.Len(t, rec.State.ScheduledQueue, 1)

	manifest := string(mock.objects["scheduler/v1/manifests/2026-03.jsonl"])
	lines := strings.Split(strings.TrimSpace(manifest), "\n")
	require.Len(t, lines, 2)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "doc-2", entry.DoctorID)
	assert.Equal(t, "scheduler/v1/by-date/2026/03/10/doc-2.json", entry.S3Key)
	assert.Equal(t, 1, entry.Patients)
	assert.InDelta(t, 12.5, entry.TotalCost, 1e-9)
}

func TestArchiveDayKeepsRecordWhenManifestFails(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := NewStore(mock, "archive-bucket", logging.Discard())

	require.NoError(t, store.ArchiveDay(context.Background(), dayRecord("doc-1")))
	assert.Equal(t, []string{"scheduler/v1/by-date/2026/03/10/doc-1.json"}, mock.puts)
}

func TestArchiveDisabledWithoutBucket(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "", nil)
	assert.False(t, store.Enabled())
	require.NoError(t, store.ArchiveDay(context.Background(), dayRecord("doc-1")))
	assert.Empty(t, mock.puts)

	var nilStore *Store
	assert.False(t, nilStore.Enabled())
}

func TestArchiveRejectsBadDay(t *testing.T) {
	rec := dayRecord("doc-1")
	rec.Day = "tomorrow"
	err := NewStore(newMockS3(), "b", logging.Discard()).ArchiveDay(context.Background(), rec)
	assert.Error(t, err)
}
