package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/eligibility"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/projection"
	"github.com/yugo-dao/yugo-sync/pkg/logger"
	"github.com/yugo-dao/yugo-sync/pkg/telemetry"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start on a running refresher
var ErrAlreadyRunning = errors.New("refresher already running")

// RefresherConfig holds configuration for the projection refresher
type RefresherConfig struct {
	// ResyncInterval forces a full refresh even without notifications, in
	// case the feed dropped one. Zero disables it.
	ResyncInterval time.Duration
	// Debounce coalesces bursts of notifications into one refresh
	Debounce time.Duration
}

// DefaultRefresherConfig returns default configuration
func DefaultRefresherConfig() *RefresherConfig {
	return &RefresherConfig{
		ResyncInterval: 30 * time.Second,
		Debounce:       50 * time.Millisecond,
	}
}

// ProjectionRefresher recomputes the caller's view from a full snapshot
// whenever any collection changes. Notifications are only triggers; their
// contents are never applied.
type ProjectionRefresher struct {
	client    *projection.Client
	projector *eligibility.Projector
	log       *logger.Logger
	config    *RefresherConfig

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	subs    []*projection.Subscription

	view *eligibility.View

	// Stats
	totalRefreshes     int64
	totalNotifications int64
	totalErrors        int64
	lastRefreshTime    time.Time
	lastError          string

	refreshes *telemetry.Counter
}

// RefresherStats holds refresher statistics
type RefresherStats struct {
	IsRunning          bool      `json:"is_running"`
	TotalRefreshes     int64     `json:"total_refreshes"`
	TotalNotifications int64     `json:"total_notifications"`
	TotalErrors        int64     `json:"total_errors"`
	LastRefreshTime    time.Time `json:"last_refresh_time"`
	LastError          string    `json:"last_error,omitempty"`
}

// NewProjectionRefresher creates a refresher
func NewProjectionRefresher(client *projection.Client, projector *eligibility.Projector, log *logger.Logger, config *RefresherConfig) *ProjectionRefresher {
	if config == nil {
		config = DefaultRefresherConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	refreshes, _ := telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "projection_view_refreshes_total",
		Description: "Full view recomputations",
	})

	return &ProjectionRefresher{
		client:    client,
		projector: projector,
		log:       log.Named("refresher"),
		config:    config,
		refreshes: refreshes,
	}
}

// Start subscribes to every collection, computes the first view and keeps it
// current until Stop
func (r *ProjectionRefresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	subs := make([]*projection.Subscription, 0, len(projection.AllCollections))
	for _, c := range projection.AllCollections {
		sub, err := r.client.Store().Subscribe(ctx, c, projection.All())
		if err != nil {
			for _, s := range subs {
				s.Close()
			}
			r.mu.Unlock()
			return err
		}
		subs = append(subs, sub)
	}

	r.running = true
	r.subs = subs
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	if _, err := r.Refresh(ctx); err != nil {
		r.log.Warn("initial refresh failed", zap.Error(err))
	}

	signal := make(chan struct{}, 1)
	var fan sync.WaitGroup
	for _, sub := range subs {
		fan.Add(1)
		go func(sub *projection.Subscription) {
			defer fan.Done()
			for range sub.C {
				r.mu.Lock()
				r.totalNotifications++
				r.mu.Unlock()
				select {
				case signal <- struct{}{}:
				default:
				}
			}
		}(sub)
	}

	go func() {
		defer close(doneCh)
		r.run(stopCh, signal)
		fan.Wait()
	}()

	r.log.Info("projection refresher started",
		zap.Duration("resync_interval", r.config.ResyncInterval),
		zap.String("caller", r.projector.Caller()),
	)
	return nil
}

func (r *ProjectionRefresher) run(stopCh <-chan struct{}, signal <-chan struct{}) {
	var resync <-chan time.Time
	if r.config.ResyncInterval > 0 {
		ticker := time.NewTicker(r.config.ResyncInterval)
		defer ticker.Stop()
		resync = ticker.C
	}

	for {
		select {
		case <-stopCh:
			return
		case <-signal:
			if r.config.Debounce > 0 {
				select {
				case <-time.After(r.config.Debounce):
				case <-stopCh:
					return
				}
			}
		case <-resync:
		}

		if _, err := r.Refresh(context.Background()); err != nil {
			r.log.Error("refresh failed", zap.Error(err))
		}
	}
}

// Refresh reads a full snapshot and recomputes the view
func (r *ProjectionRefresher) Refresh(ctx context.Context) (*eligibility.View, error) {
	snap, err := r.client.Snapshot(ctx)
	if err != nil {
		r.mu.Lock()
		r.totalErrors++
		r.lastError = err.Error()
		r.mu.Unlock()
		return nil, err
	}

	view := r.projector.Project(snap.Organisations, snap.Participants, snap.Contests, snap.Actions)

	r.mu.Lock()
	r.view = view
	r.totalRefreshes++
	r.lastRefreshTime = time.Now()
	r.lastError = ""
	r.mu.Unlock()

	r.refreshes.Inc(ctx)
	r.log.Debug("view refreshed",
		zap.Int("contests", len(view.Contests)),
		zap.Int("actions", len(view.Actions)),
		zap.Int("members", len(view.Members)),
	)
	return view, nil
}

// View returns the latest view, or nil before the first refresh
func (r *ProjectionRefresher) View() *eligibility.View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view
}

// Stop cancels the subscriptions and waits for the loop to exit
func (r *ProjectionRefresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	subs := r.subs
	r.subs = nil
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	for _, s := range subs {
		s.Close()
	}
	<-doneCh

	r.log.Info("projection refresher stopped")
}

// IsRunning reports whether the refresher is running
func (r *ProjectionRefresher) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// GetStats returns refresher statistics
func (r *ProjectionRefresher) GetStats() RefresherStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RefresherStats{
		IsRunning:          r.running,
		TotalRefreshes:     r.totalRefreshes,
		TotalNotifications: r.totalNotifications,
		TotalErrors:        r.totalErrors,
		LastRefreshTime:    r.lastRefreshTime,
		LastError:          r.lastError,
	}
}
