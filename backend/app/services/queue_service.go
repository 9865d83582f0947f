package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dutlab/backend/app/dto"
	"dutlab/backend/app/events"
	"dutlab/backend/app/inventory"
	"dutlab/backend/app/models"
	"dutlab/backend/app/observability"
	"dutlab/backend/app/repo"
	"dutlab/plugin"
	"dutlab/remote"

	"github.com/rs/zerolog"
)

var (
	// ErrDeviceActive is returned by Reset while this process still owns the device.
	ErrDeviceActive = errors.New("device has a job in progress")
	ErrQueueClosed  = errors.New("queue service is shutting down")
)

const (
	logInsertFailed = "DB insert failed"
	storeRetries    = 3
)

// credentialKeys never reach the sandbox; managed devices are not dialled.
var credentialKeys = []string{"ip", "username", "password", "key_file"}

type StatusStore interface {
	GetStatus(ctx context.Context, id int) (string, []models.Job, error)
	List(ctx context.Context) ([]models.DeviceStatus, error)
	SetStatus(ctx context.Context, id int, status string) error
	Admit(ctx context.Context, id int, job models.Job) (bool, error)
	PopOrRelease(ctx context.Context, id int) (models.Job, bool, error)
	Claim(ctx context.Context, id int) (bool, error)
}

type JobCounter interface {
	Next(ctx context.Context) (uint64, error)
}

type LogAppender interface {
	Append(ctx context.Context, rec *models.LogRecord) error
}

// Executor runs one job to completion and never fails outright.
type Executor interface {
	Run(ctx context.Context, inv plugin.Invocation) plugin.Result
}

type QueueDeps struct {
	Store     StatusStore
	Counter   JobCounter
	Logs      LogAppender
	Inventory *inventory.Inventory
	Local     Executor
	Remote    Executor
	Events    events.Publisher
	Logger    zerolog.Logger
	// StoreBackoff spaces retries of a failed drain step.
	StoreBackoff time.Duration
}

// QueueService admits jobs per device and drains each device's queue on a
// dedicated worker. A device is owned by exactly one goroutine while Busy:
// the submitter that admitted it, then its worker.
type QueueService struct {
	store     StatusStore
	counter   JobCounter
	logs      LogAppender
	inv       *inventory.Inventory
	local     Executor
	remote    Executor
	events    events.Publisher
	log       zerolog.Logger
	backoff   time.Duration
	workerCtx context.Context

	mu          sync.Mutex
	holds       map[int]int
	wake        map[int]chan struct{}
	started     bool
	closed      bool
	chansClosed bool
	// inflight counts Submit, Drain and Reset calls; wg counts drain goroutines.
	inflight sync.WaitGroup
	wg       sync.WaitGroup
}

func NewQueueService(d QueueDeps) *QueueService {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.StoreBackoff <= 0 {
		d.StoreBackoff = 500 * time.Millisecond
	}
	s := &QueueService{
		store:     d.Store,
		counter:   d.Counter,
		logs:      d.Logs,
		inv:       d.Inventory,
		local:     d.Local,
		remote:    d.Remote,
		events:    d.Events,
		log:       d.Logger,
		backoff:   d.StoreBackoff,
		workerCtx: context.Background(),
		holds:     make(map[int]int),
		wake:      make(map[int]chan struct{}),
	}
	for _, id := range d.Inventory.IDs() {
		s.wake[id] = make(chan struct{}, 1)
	}
	return s
}

// Start launches the per-device workers and hands them any device that is
// Free but still has queued jobs. Busy rows left by a crash are reported and
// left alone; the job that was running is never repeated.
func (s *QueueService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return errors.New("queue service already started")
	}
	s.started = true
	for id, ch := range s.wake {
		s.wg.Add(1)
		go s.worker(id, ch)
	}
	s.mu.Unlock()

	rows, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list device status: %w", err)
	}
	for _, row := range rows {
		if row.Status == models.StatusBusy {
			s.log.Warn().Int("device_id", row.DeviceID).Msg("device left busy by a previous run; reset it to resume its queue")
			continue
		}
		s.hold(row.DeviceID)
		claimed, err := s.store.Claim(ctx, row.DeviceID)
		if err != nil || !claimed {
			s.release(row.DeviceID)
			if err != nil {
				s.log.Error().Err(err).Int("device_id", row.DeviceID).Msg("claim on startup")
			}
			continue
		}
		s.log.Info().Int("device_id", row.DeviceID).Msg("resuming queued jobs")
		s.handoff(row.DeviceID)
	}
	return nil
}

// Close rejects new calls, waits for running submissions (their results are
// logged and their devices handed to the workers), then stops the workers
// once their queues are drained.
func (s *QueueService) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()

	s.mu.Lock()
	if !s.chansClosed {
		s.chansClosed = true
		for _, ch := range s.wake {
			close(ch)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// enter registers a caller that Close must wait for.
func (s *QueueService) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Submit admits one job. Run-now jobs execute before Submit returns; queued
// jobs return immediately with Queued set.
func (s *QueueService) Submit(ctx context.Context, req dto.SubmitRequest) dto.SubmitResult {
	if !s.enter() {
		return failure(nil, "Queue service is shutting down")
	}
	defer s.inflight.Done()

	params := plugin.Params(req.Parameters).Clone()
	iterations := req.Iterations
	if iterations <= 0 {
		iterations = params.Int("iterations", 1)
	}
	if iterations <= 0 {
		iterations = 1
	}
	params["iterations"] = iterations

	_, _, err := s.store.GetStatus(ctx, req.DeviceID)
	if errors.Is(err, repo.ErrNotFound) {
		return s.submitRemote(ctx, req, iterations, params)
	}
	if err != nil {
		s.log.Error().Err(err).Int("device_id", req.DeviceID).Msg("read device status")
		return failure(nil, fmt.Sprintf("Device status unavailable: %v", err))
	}
	return s.submitManaged(ctx, req, iterations, params)
}

func (s *QueueService) submitManaged(ctx context.Context, req dto.SubmitRequest, iterations int, params plugin.Params) dto.SubmitResult {
	for _, k := range credentialKeys {
		delete(params, k)
	}
	job := models.Job{
		DeviceID:     req.DeviceID,
		HardwareType: req.HardwareType,
		Serial:       req.Serial,
		ComPort:      req.ComPort,
		MacAddress:   req.MacAddress,
		TestName:     req.TestName,
		Iterations:   iterations,
		Parameters:   params,
		SubmittedAt:  time.Now().UTC(),
	}
	if d, ok := s.inv.Lookup(req.DeviceID); ok {
		job.HardwareType = firstNonEmpty(job.HardwareType, d.HardwareType)
		job.Serial = firstNonEmpty(job.Serial, d.Serial)
		job.ComPort = firstNonEmpty(job.ComPort, d.ComPort)
		job.MacAddress = firstNonEmpty(job.MacAddress, d.MacAddress)
	}

	id, err := s.counter.Next(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("device_id", req.DeviceID).Msg("reserve job id")
		return failure(nil, fmt.Sprintf("Job id unavailable: %v", err))
	}
	job.JobID = id

	s.hold(job.DeviceID)
	runNow, err := s.store.Admit(ctx, job.DeviceID, job)
	if err != nil {
		s.release(job.DeviceID)
		s.log.Error().Err(err).Uint64("job_id", id).Int("device_id", job.DeviceID).Msg("admit job")
		return failure(&id, fmt.Sprintf("Admission failed: %v", err))
	}
	if !runNow {
		s.release(job.DeviceID)
		observability.RecordQueued(job.DeviceID)
		s.log.Info().Uint64("job_id", id).Int("device_id", job.DeviceID).Str("test", job.TestName).Msg("job queued")
		return dto.SubmitResult{JobID: &id, Outcome: dto.OutcomeQueued, Metrics: map[string]any{}, Queued: true}
	}

	res := s.runLocal(ctx, job)
	s.handoff(job.DeviceID)
	return res
}

func (s *QueueService) submitRemote(ctx context.Context, req dto.SubmitRequest, iterations int, params plugin.Params) dto.SubmitResult {
	rec := models.LogRecord{
		DeviceID:     models.ExternalDeviceID,
		HardwareType: req.HardwareType,
		Serial:       req.Serial,
		ComPort:      req.ComPort,
		MacAddress:   req.MacAddress,
		IP:           params.String("ip"),
		Username:     params.String("username"),
		TestName:     req.TestName,
	}

	target, err := remote.TargetFromParams(params)
	if err != nil {
		msg := remote.MissingCredentialsMessage(target)
		s.log.Warn().Int("device_id", req.DeviceID).Str("test", req.TestName).Msg(msg)
		res := plugin.Failf("%s", msg)
		if err := s.appendLog(ctx, rec, params, res); err != nil {
			s.log.Error().Err(err).Msg("log rejected remote submission")
		}
		return failure(nil, msg)
	}

	id, err := s.counter.Next(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("ip", target.Address).Msg("reserve job id")
		return failure(nil, fmt.Sprintf("Job id unavailable: %v", err))
	}
	rec.JobID = &id

	inv := plugin.Invocation{
		JobID:      id,
		TestName:   req.TestName,
		Iterations: iterations,
		Serial:     firstNonEmpty(req.Serial, target.Address),
		Params:     params,
	}
	s.log.Info().Uint64("job_id", id).Str("ip", target.Address).Str("test", req.TestName).Msg("remote job started")
	res, elapsed := s.execute(ctx, s.remote, inv)
	return s.finish(ctx, rec, params, res, "remote", elapsed)
}

// Drain runs a Free device's queued jobs to completion and returns how many
// ran. A Busy device already has an owner, so the call is a no-op.
func (s *QueueService) Drain(ctx context.Context, deviceID int) (int, error) {
	if !s.enter() {
		return 0, ErrQueueClosed
	}
	defer s.inflight.Done()
	if _, _, err := s.store.GetStatus(ctx, deviceID); err != nil {
		return 0, err
	}
	s.hold(deviceID)
	claimed, err := s.store.Claim(ctx, deviceID)
	if err != nil || !claimed {
		s.release(deviceID)
		return 0, err
	}
	return s.drainOwned(ctx, deviceID), nil
}

// Reset frees a device left Busy by a crashed process and drains its queue.
// It refuses while a job for the device is running here.
func (s *QueueService) Reset(ctx context.Context, deviceID int) (int, error) {
	if !s.enter() {
		return 0, ErrQueueClosed
	}
	defer s.inflight.Done()
	if _, _, err := s.store.GetStatus(ctx, deviceID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	if s.holds[deviceID] > 0 {
		s.mu.Unlock()
		return 0, ErrDeviceActive
	}
	s.holds[deviceID]++
	s.mu.Unlock()

	if err := s.store.SetStatus(ctx, deviceID, models.StatusFree); err != nil {
		s.release(deviceID)
		return 0, err
	}
	s.log.Warn().Int("device_id", deviceID).Msg("device reset to free")
	claimed, err := s.store.Claim(ctx, deviceID)
	if err != nil || !claimed {
		s.release(deviceID)
		return 0, err
	}
	return s.drainOwned(ctx, deviceID), nil
}

// Devices joins the inventory with the live status rows.
func (s *QueueService) Devices(ctx context.Context) ([]dto.DeviceView, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]models.DeviceStatus, len(rows))
	for _, row := range rows {
		byID[row.DeviceID] = row
	}
	views := make([]dto.DeviceView, 0, len(rows))
	for _, d := range s.inv.All() {
		v := dto.DeviceView{ID: d.ID, HardwareType: d.HardwareType, Serial: d.Serial, ComPort: d.ComPort, MacAddress: d.MacAddress, QueuedJobs: []uint64{}}
		if row, ok := byID[d.ID]; ok {
			v.Status = row.Status
			var queue []models.Job
			if err := json.Unmarshal([]byte(row.JobQueue), &queue); err != nil {
				s.log.Error().Err(err).Int("device_id", d.ID).Msg("decode job queue")
			}
			for _, j := range queue {
				v.QueuedJobs = append(v.QueuedJobs, j.JobID)
			}
			v.QueueDepth = len(queue)
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *QueueService) worker(id int, wake <-chan struct{}) {
	defer s.wg.Done()
	for range wake {
		if n := s.drainOwned(s.workerCtx, id); n > 0 {
			s.log.Info().Int("device_id", id).Int("executed", n).Msg("queue drained")
		}
	}
}

// handoff passes ownership of a Busy device to its worker, or to a one-off
// drain goroutine when no worker is running.
func (s *QueueService) handoff(id int) {
	s.mu.Lock()
	ch, ok := s.wake[id]
	if ok && s.started && !s.chansClosed {
		select {
		case ch <- struct{}{}:
		default:
		}
		s.mu.Unlock()
		return
	}
	closed := s.chansClosed
	if !closed {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if closed {
		s.drainOwned(s.workerCtx, id)
		return
	}
	go func() {
		defer s.wg.Done()
		s.drainOwned(s.workerCtx, id)
	}()
}

// drainOwned is only called by the current owner of a Busy device. It pops
// and runs jobs until the queue is empty, then marks the device Free.
func (s *QueueService) drainOwned(ctx context.Context, id int) int {
	defer s.release(id)
	ctx = context.WithoutCancel(ctx)
	n := 0
	for {
		job, ok, err := s.popOrRelease(ctx, id)
		if err != nil {
			s.log.Error().Err(err).Int("device_id", id).Msg("drain step failed; device stays busy until reset")
			return n
		}
		if !ok {
			return n
		}
		s.runLocal(ctx, job)
		n++
	}
}

func (s *QueueService) popOrRelease(ctx context.Context, id int) (models.Job, bool, error) {
	var lastErr error
	for attempt := 0; attempt < storeRetries; attempt++ {
		job, ok, err := s.store.PopOrRelease(ctx, id)
		if err == nil {
			return job, ok, nil
		}
		lastErr = err
		time.Sleep(s.backoff)
	}
	return models.Job{}, false, lastErr
}

func (s *QueueService) runLocal(ctx context.Context, job models.Job) dto.SubmitResult {
	id := job.JobID
	inv := plugin.Invocation{
		JobID:      id,
		TestName:   job.TestName,
		Iterations: job.Iterations,
		Serial:     job.Serial,
		Params:     plugin.Params(job.Parameters),
	}
	s.log.Info().Uint64("job_id", id).Int("device_id", job.DeviceID).Str("test", job.TestName).Msg("job started")
	res, elapsed := s.execute(ctx, s.local, inv)
	rec := models.LogRecord{
		JobID:        &id,
		DeviceID:     job.DeviceID,
		HardwareType: job.HardwareType,
		Serial:       job.Serial,
		ComPort:      job.ComPort,
		MacAddress:   job.MacAddress,
		TestName:     job.TestName,
	}
	return s.finish(ctx, rec, inv.Params, res, "local", elapsed)
}

// execute shields the caller from executor panics. Jobs are not cancelled
// once dispatched, so the caller's cancellation is dropped.
func (s *QueueService) execute(ctx context.Context, ex Executor, inv plugin.Invocation) (res plugin.Result, elapsed time.Duration) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Uint64("job_id", inv.JobID).Interface("panic", rec).Msg("executor panicked")
			res = plugin.Failf("Execution failed: %v", rec)
		}
		elapsed = time.Since(start)
		res = plugin.Augment(res, inv.Serial, elapsed)
	}()
	return ex.Run(context.WithoutCancel(ctx), inv), 0
}

func (s *QueueService) finish(ctx context.Context, rec models.LogRecord, params plugin.Params, res plugin.Result, path string, elapsed time.Duration) dto.SubmitResult {
	if err := s.appendLog(ctx, rec, params, res); err != nil {
		observability.RecordLogFailure()
		s.log.Error().Err(err).Uint64("job_id", deref(rec.JobID)).Msg("append log record")
		return failure(rec.JobID, logInsertFailed)
	}
	observability.RecordJob(path, rec.TestName, string(res.Outcome), elapsed)
	s.log.Info().Uint64("job_id", deref(rec.JobID)).Int("device_id", rec.DeviceID).Str("test", rec.TestName).Str("outcome", string(res.Outcome)).Dur("elapsed", elapsed).Msg("job finished")
	return dto.SubmitResult{JobID: rec.JobID, Outcome: string(res.Outcome), Metrics: res.Metrics}
}

func (s *QueueService) appendLog(ctx context.Context, rec models.LogRecord, params plugin.Params, res plugin.Result) error {
	ctx = context.WithoutCancel(ctx)
	logged := params.Clone()
	delete(logged, "password")
	p, err := json.Marshal(logged)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	m, err := json.Marshal(res.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	rec.Parameters = string(p)
	rec.Metrics = string(m)
	rec.Outcome = string(res.Outcome)
	rec.CreatedAt = time.Now().UTC()
	if err := s.logs.Append(ctx, &rec); err != nil {
		return err
	}
	ev := events.JobEvent{JobID: rec.JobID, DeviceID: rec.DeviceID, TestName: rec.TestName, Outcome: rec.Outcome, Metrics: res.Metrics, Timestamp: rec.CreatedAt}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Uint64("job_id", deref(rec.JobID)).Msg("publish job event")
	}
	return nil
}

func (s *QueueService) hold(id int) {
	s.mu.Lock()
	s.holds[id]++
	s.mu.Unlock()
}

func (s *QueueService) release(id int) {
	s.mu.Lock()
	if s.holds[id] <= 1 {
		delete(s.holds, id)
	} else {
		s.holds[id]--
	}
	s.mu.Unlock()
}

func failure(jobID *uint64, msg string) dto.SubmitResult {
	return dto.SubmitResult{JobID: jobID, Outcome: string(plugin.Fail), Metrics: map[string]any{"error": msg}}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func deref(id *uint64) uint64 {
	if id == nil {
		return 0
	}
	return *id
}
