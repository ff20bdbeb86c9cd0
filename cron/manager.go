package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-translation-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager schedules the maintenance jobs (expiry sweep, auto-save). Jobs run
// with a timeout and panic isolation so one bad run never takes the scheduler
// down.
type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	metrics      types.MetricsManager
	cron         *cron.Cron
	timezone     *time.Location
	jobs         map[string]*types.JobEntry
	state        atomic.Value
	mu           sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
	jobTimeout   time.Duration
}

func NewManager(ctx context.Context, config *types.MaintenanceConfig, logger types.Logger, metrics types.MetricsManager) (*Manager, error) {
	timezoneStr := "UTC"
	jobTimeout := 300 * time.Second
	if config != nil {
		if config.Timezone != "" {
			timezoneStr = config.Timezone
		}
		if config.JobTimeout > 0 {
			jobTimeout = time.Duration(config.JobTimeout) * time.Second
		}
	}

	timezone, err := time.LoadLocation(timezoneStr)
	if err != nil {
		timezone = time.UTC
	}

	cronL := safeCronLogger{logger: logger}
	cronOptions := []cron.Option{
		cron.WithLocation(timezone),
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronL)),
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:        managerCtx,
		cancel:     cancel,
		logger:     logger,
		metrics:    metrics,
		cron:       cron.New(cronOptions...),
		timezone:   timezone,
		jobs:       make(map[string]*types.JobEntry),
		shutdown:   make(chan struct{}),
		jobTimeout: jobTimeout,
	}

	manager.state.Store(StateStopped)
	return manager, nil
}

func (m *Manager) Add(jobName, spec string, job func()) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if spec == "" {
		return types.ErrCronExpressionInvalid
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}

	return m.addJob(jobName, spec, m.wrapJob(jobName, job))
}

func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return types.NewErrorf("cron job not found: %s", jobName)
	}

	m.cron.Remove(entry.ID)
	delete(m.jobs, jobName)

	if m.logger != nil {
		m.logger.Info("Cron job removed", zap.String("job_name", jobName))
	}
	return nil
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	m.cron.Start()
	m.setState(StateRunning)

	if m.logger != nil {
		m.logger.Info("Cron manager started", zap.String("timezone", m.timezone.String()))
	}
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) &&
		!m.transitionState(StateStarting, StateStopping) {
		return types.ErrServerNotRunning
	}

	m.shutdownOnce.Do(func() {
		defer func() {
			m.setState(StateStopped)
			m.cancel()
		}()

		close(m.shutdown)

		// Let in-flight jobs finish before tearing down.
		stopCtx := m.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(10 * time.Second):
			if m.logger != nil {
				m.logger.Warn("Cron stop timeout, some jobs may not have finished")
			}
		}

		if m.logger != nil {
			m.logger.Info("Cron scheduler stopped gracefully")
		}
	})

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) {
	m.state.Store(newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *Manager) addJob(jobName, spec string, job func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.shutdown:
		return types.ErrServerNotRunning
	default:
	}

	if _, exists := m.jobs[jobName]; exists {
		return types.ErrCronJobExists
	}

	entryID, err := m.cron.AddFunc(spec, job)
	if err != nil {
		return types.WrapError(types.ErrCronExpressionInvalid, err.Error())
	}

	m.jobs[jobName] = &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		Job:     job,
		AddedAt: time.Now(),
	}

	if m.logger != nil {
		m.logger.Info("Cron job added",
			zap.String("job_name", jobName),
			zap.String("spec", spec))
	}
	return nil
}

func (m *Manager) wrapJob(jobName string, job func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil && m.logger != nil {
				m.logger.Error("Panic in cron job",
					zap.String("job_name", jobName),
					zap.Any("panic", r))
			}
		}()

		select {
		case <-m.shutdown:
			if m.logger != nil {
				m.logger.Info("Job skipped due to shutdown", zap.String("job_name", jobName))
			}
			return
		default:
		}

		startTime := time.Now()

		jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			job()
		}()

		var err error
		select {
		case <-done:
		case <-jobCtx.Done():
			err = types.WrapError(jobCtx.Err(), "job interrupted")
			if m.logger != nil {
				m.logger.Error("Cron job interrupted",
					zap.String("job_name", jobName),
					zap.Error(err))
			}
		}

		duration := time.Since(startTime)
		m.recordRun(jobName, duration, err)
	}
}

func (m *Manager) recordRun(jobName string, duration time.Duration, err error) {
	m.mu.Lock()
	if entry, ok := m.jobs[jobName]; ok {
		entry.LastRun = time.Now()
		entry.RunCount++
		entry.Error = err
	}
	m.mu.Unlock()

	if m.metrics != nil {
		result := "success"
		if err != nil {
			result = "error"
		}
		m.metrics.Counter("cron_job_executions_total", map[string]string{
			"job_name": jobName,
			"result":   result,
		}).Inc()
		m.metrics.Histogram("cron_job_duration_seconds",
			[]float64{0.01, 0.1, 1.0, 10.0, 60.0},
			map[string]string{"job_name": jobName},
		).Observe(duration.Seconds())
	}

	if m.logger != nil {
		if err != nil {
			m.logger.Error("Cron job failed",
				zap.String("job_name", jobName),
				zap.Duration("duration", duration),
				zap.Error(err))
		} else {
			m.logger.Debug("Cron job completed",
				zap.String("job_name", jobName),
				zap.Duration("duration", duration))
		}
	}
}

type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.logger != nil {
		l.logger.Info(msg, zap.Any("details", keysAndValues))
	}
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if l.logger != nil {
		l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
	}
}
