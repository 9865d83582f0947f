package services

import (
	"context"
	"encoding/json"

	"dutlab/backend/app/dto"
	"dutlab/backend/app/models"
	"dutlab/backend/app/repo"

	"github.com/rs/zerolog"
)

// LogService is the read side of the append-only job log.
type LogService struct {
	repo *repo.LogRepository
	log  zerolog.Logger
}

func NewLogService(r *repo.LogRepository, log zerolog.Logger) *LogService {
	return &LogService{repo: r, log: log}
}

func (s *LogService) List(ctx context.Context, f repo.LogFilter) ([]dto.LogRecordView, error) {
	recs, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]dto.LogRecordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.toView(rec))
	}
	return out, nil
}

// Get returns nil when no record exists for jobID.
func (s *LogService) Get(ctx context.Context, jobID uint64) (*dto.LogRecordView, error) {
	rec, err := s.repo.Get(ctx, jobID)
	if err != nil || rec == nil {
		return nil, err
	}
	v := s.toView(*rec)
	return &v, nil
}

// toView decodes the JSON columns; a corrupt column is logged and shown empty.
func (s *LogService) toView(rec models.LogRecord) dto.LogRecordView {
	v := dto.LogRecordView{
		JobID:        rec.JobID,
		DeviceID:     rec.DeviceID,
		HardwareType: rec.HardwareType,
		Serial:       rec.Serial,
		ComPort:      rec.ComPort,
		MacAddress:   rec.MacAddress,
		IP:           rec.IP,
		Username:     rec.Username,
		TestName:     rec.TestName,
		Outcome:      rec.Outcome,
		Timestamp:    rec.CreatedAt,
	}
	if err := json.Unmarshal([]byte(rec.Parameters), &v.Parameters); err != nil {
		s.log.Error().Err(err).Uint("record_id", rec.ID).Msg("decode log parameters")
	}
	if err := json.Unmarshal([]byte(rec.Metrics), &v.Metrics); err != nil {
		s.log.Error().Err(err).Uint("record_id", rec.ID).Msg("decode log metrics")
	}
	return v
}
