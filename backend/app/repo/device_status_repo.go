package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dutlab/backend/app/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound means the device has no status row, i.e. it is unmanaged.
var ErrNotFound = errors.New("device not managed")

// DeviceStatusRepository owns the per-device admission gate and its queue.
// Every mutation is a read-modify-write inside one transaction.
type DeviceStatusRepository struct{ db *gorm.DB }

func NewDeviceStatusRepository(db *gorm.DB) *DeviceStatusRepository {
	return &DeviceStatusRepository{db: db}
}

// EnsureDevices inserts missing rows as Free with an empty queue. Existing
// rows are left untouched so a Busy status survives restarts.
func (r *DeviceStatusRepository) EnsureDevices(ctx context.Context, ids []int) error {
	for _, id := range ids {
		row := models.DeviceStatus{DeviceID: id, Status: models.StatusFree, JobQueue: "[]"}
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("ensure device %d: %w", id, err)
		}
	}
	return nil
}

func (r *DeviceStatusRepository) GetStatus(ctx context.Context, id int) (string, []models.Job, error) {
	var row models.DeviceStatus
	if err := r.db.WithContext(ctx).Where("device_id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrNotFound
		}
		return "", nil, err
	}
	queue, err := decodeQueue(row.JobQueue)
	if err != nil {
		return "", nil, fmt.Errorf("device %d: %w", id, err)
	}
	return row.Status, queue, nil
}

// List returns every managed row ordered by device id.
func (r *DeviceStatusRepository) List(ctx context.Context) ([]models.DeviceStatus, error) {
	var rows []models.DeviceStatus
	err := r.db.WithContext(ctx).Order("device_id ASC").Find(&rows).Error
	return rows, err
}

func (r *DeviceStatusRepository) SetStatus(ctx context.Context, id int, status string) error {
	return r.mutate(ctx, id, func(row *models.DeviceStatus, _ *[]models.Job) error {
		row.Status = status
		return nil
	})
}

func (r *DeviceStatusRepository) Enqueue(ctx context.Context, id int, job models.Job) error {
	return r.mutate(ctx, id, func(_ *models.DeviceStatus, queue *[]models.Job) error {
		*queue = append(*queue, job)
		return nil
	})
}

// PopFront removes and returns the queue head; ok is false on an empty queue.
func (r *DeviceStatusRepository) PopFront(ctx context.Context, id int) (job models.Job, ok bool, err error) {
	err = r.mutate(ctx, id, func(_ *models.DeviceStatus, queue *[]models.Job) error {
		job, ok = shift(queue)
		return nil
	})
	return job, ok, err
}

// Admit decides a submission atomically: a Free device with an empty queue
// becomes Busy and the caller runs the job now; otherwise the job is queued.
func (r *DeviceStatusRepository) Admit(ctx context.Context, id int, job models.Job) (runNow bool, err error) {
	err = r.mutate(ctx, id, func(row *models.DeviceStatus, queue *[]models.Job) error {
		if row.Status == models.StatusFree && len(*queue) == 0 {
			row.Status = models.StatusBusy
			runNow = true
			return nil
		}
		*queue = append(*queue, job)
		return nil
	})
	return runNow, err
}

// PopOrRelease is one drain step for the current owner: pop the head and stay
// Busy, or mark the device Free when nothing is left.
func (r *DeviceStatusRepository) PopOrRelease(ctx context.Context, id int) (job models.Job, ok bool, err error) {
	err = r.mutate(ctx, id, func(row *models.DeviceStatus, queue *[]models.Job) error {
		job, ok = shift(queue)
		if ok {
			row.Status = models.StatusBusy
		} else {
			row.Status = models.StatusFree
		}
		return nil
	})
	return job, ok, err
}

// Claim takes ownership of a Free device that still has queued work.
func (r *DeviceStatusRepository) Claim(ctx context.Context, id int) (claimed bool, err error) {
	err = r.mutate(ctx, id, func(row *models.DeviceStatus, queue *[]models.Job) error {
		if row.Status == models.StatusFree && len(*queue) > 0 {
			row.Status = models.StatusBusy
			claimed = true
		}
		return nil
	})
	return claimed, err
}

func (r *DeviceStatusRepository) mutate(ctx context.Context, id int, fn func(row *models.DeviceStatus, queue *[]models.Job) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "mysql" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var row models.DeviceStatus
		if err := q.Where("device_id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		queue, err := decodeQueue(row.JobQueue)
		if err != nil {
			return fmt.Errorf("device %d: %w", id, err)
		}
		if err := fn(&row, &queue); err != nil {
			return err
		}
		encoded, err := json.Marshal(queue)
		if err != nil {
			return fmt.Errorf("encode queue: %w", err)
		}
		return tx.Model(&models.DeviceStatus{}).
			Where("device_id = ?", id).
			Updates(map[string]any{"status": row.Status, "job_queue": string(encoded)}).Error
	})
}

func decodeQueue(raw string) ([]models.Job, error) {
	queue := []models.Job{}
	if raw == "" {
		return queue, nil
	}
	if err := json.Unmarshal([]byte(raw), &queue); err != nil {
		return nil, fmt.Errorf("decode job queue: %w", err)
	}
	return queue, nil
}

func shift(queue *[]models.Job) (models.Job, bool) {
	if len(*queue) == 0 {
		return models.Job{}, false
	}
	head := (*queue)[0]
	*queue = (*queue)[1:]
	return head, true
}
