// Package archive writes closed doctor-days to S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/engine"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ManifestEntry is one line of the monthly manifest.
type ManifestEntry struct {
	DoctorID      string  `json:"doctor_id"`
	Day           string  `json:"day"`
	S3Key         string  `json:"s3_key"`
	Patients      int     `json:"patients"`
	Optimizations int     `json:"optimizations"`
	TotalCost     float64 `json:"total_cost,omitempty"`
	ArchivedAt    string  `json:"archived_at"`
}

// Record is the archived document.
type Record struct {
	engine.DayRecord
	ArchivedAt time.Time `json:"archived_at"`
}

// Store archives day records. With an empty bucket every call is a no-op.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

var _ engine.Archiver = (*Store)(nil)

func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled returns true if archival is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// DayKey is where a doctor-day is stored.
func DayKey(doctorID string, day time.Time) string {
	return fmt.Sprintf("scheduler/v1/by-date/%d/%02d/%02d/%s.json", day.Year(), day.Month(), day.Day(), doctorID)
}

// ManifestKey is the monthly manifest holding day.
func ManifestKey(day time.Time) string {
	return fmt.Sprintf("scheduler/v1/manifests/%d-%02d.jsonl", day.Year(), day.Month())
}

// ArchiveDay writes the record and appends it to the month's manifest. A
// manifest failure is logged; the day itself is already stored.
func (s *Store) ArchiveDay(ctx context.Context, rec engine.DayRecord) error {
	if !s.Enabled() {
		return nil
	}
	day, err := time.Parse("2006-01-02", rec.Day)
	if err != nil {
		return fmt.Errorf("archive: day %q: %w", rec.Day, err)
	}
	now := s.now().UTC()

	data, err := json.Marshal(Record{DayRecord: rec, ArchivedAt: now})
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	key := DayKey(rec.DoctorID, day)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived doctor day to S3", "doctor_id", rec.DoctorID, "day", rec.Day, "s3_key", key)

	entry := ManifestEntry{
		DoctorID:      rec.DoctorID,
		Day:           rec.Day,
		S3Key:         key,
		Patients:      len(rec.State.Patients()),
		Optimizations: rec.Stats.OptimizationsTotal,
		ArchivedAt:    now.Format(time.RFC3339),
	}
	if rec.Schedule != nil {
		entry.TotalCost = rec.Schedule.Metrics.TotalCost
	}
	if err := s.AppendManifest(ctx, ManifestKey(day), entry); err != nil {
		s.logger.Warn("failed to append manifest", "error", err, "doctor_id", rec.DoctorID, "day", rec.Day)
	}
	return nil
}

// AppendManifest adds a JSONL line to the manifest at key. S3 has no append,
// so this reads, extends and rewrites the object.
func (s *Store) AppendManifest(ctx context.Context, key string, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	var existing []byte
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", key)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound") || strings.Contains(msg, "404")
}
