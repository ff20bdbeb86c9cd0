package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-translation-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	service      types.ServiceInfo
	checkers     map[string]types.HealthChecker
	results      map[string]types.HealthCheck
	startTime    time.Time
	mu           sync.RWMutex
	state        atomicState
	checkTimeout time.Duration
	interval     time.Duration
	wg           sync.WaitGroup
}

func NewManager(ctx context.Context, logger types.Logger, service types.ServiceInfo) (*Manager, error) {
	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		logger:       logger,
		service:      service,
		checkers:     make(map[string]types.HealthChecker),
		results:      make(map[string]types.HealthCheck),
		checkTimeout: 5 * time.Second,
	}

	manager.state.set(StateStopped)
	return manager, nil
}

// SetCheckInterval enables the background refresh loop. Zero disables it;
// Check still runs on demand either way.
func (hm *Manager) SetCheckInterval(seconds int) {
	if seconds > 0 {
		hm.interval = time.Duration(seconds) * time.Second
	}
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(checkCtx)
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				result := hm.executeCheck(gCtx, name, checker)

				resultMu.Lock()
				results[name] = result
				resultMu.Unlock()
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil && hm.logger != nil {
		select {
		case <-checkCtx.Done():
			hm.logger.Warn("Health check timeout, some checks may not have completed")
		default:
			hm.logger.Error("Error during health checks", zap.Error(err))
		}
	}

	hm.mu.Lock()
	hm.results = results
	hm.mu.Unlock()

	return hm.buildReport(results)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()
	result := checker(ctx)
	result.Name = name
	result.LastCheck = time.Now()
	result.Duration = time.Since(start)
	if result.Status == "" {
		result.Status = types.StatusUnknown
	}
	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	summary := types.HealthSummary{Total: len(results)}
	overall := types.StatusHealthy

	for _, check := range results {
		switch check.Status {
		case types.StatusHealthy:
			summary.Healthy++
		case types.StatusUnhealthy:
			summary.Unhealthy++
			overall = types.StatusUnhealthy
		default:
			summary.Unknown++
			if overall == types.StatusHealthy {
				overall = types.StatusUnknown
			}
		}
	}

	return types.HealthReport{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		Service:   hm.service,
		Checks:    results,
		Summary:   summary,
	}
}

func (hm *Manager) Start() error {
	if !hm.state.transition(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	hm.startTime = time.Now()
	hm.state.set(StateRunning)

	if hm.interval > 0 {
		hm.wg.Add(1)
		go hm.refreshLoop()
	}

	if hm.logger != nil {
		hm.logger.Info("Health manager started")
	}
	return nil
}

func (hm *Manager) refreshLoop() {
	defer hm.wg.Done()

	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hm.Check(hm.ctx)
		case <-hm.ctx.Done():
			return
		}
	}
}

func (hm *Manager) Stop() error {
	if !hm.state.transition(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	hm.mu.Lock()
	hm.checkers = make(map[string]types.HealthChecker)
	hm.mu.Unlock()

	hm.state.set(StateStopped)
	hm.cancel()
	hm.wg.Wait()

	if hm.logger != nil {
		hm.logger.Info("Health manager stopped gracefully")
	}
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.state.get() == StateRunning
}

type atomicState struct {
	mu    sync.Mutex
	state State
}

func (a *atomicState) get() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *atomicState) set(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *atomicState) transition(from, to State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != from {
		return false
	}
	a.state = to
	return true
}
