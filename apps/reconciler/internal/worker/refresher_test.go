package worker

import (
	"context"
	"testing"
	"time"

	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/domain"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/eligibility"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/projection"
)

const caller = "0x1111111111111111111111111111111111111111"

func newTestRefresher(config *RefresherConfig) (*ProjectionRefresher, *projection.Client, *projection.MemoryStore) {
	store := projection.NewMemoryStore()
	client := projection.NewClient(store)
	projector := eligibility.NewProjector(eligibility.Config{Caller: caller})
	return NewProjectionRefresher(client, projector, nil, config), client, store
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDefaultRefresherConfig(t *testing.T) {
	config := DefaultRefresherConfig()

	if config.ResyncInterval != 30*time.Second {
		t.Errorf("ResyncInterval = %v, want %v", config.ResyncInterval, 30*time.Second)
	}

	if config.Debounce != 50*time.Millisecond {
		t.Errorf("Debounce = %v, want %v", config.Debounce, 50*time.Millisecond)
	}
}

func TestNewProjectionRefresher_WithDefaultConfig(t *testing.T) {
	refresher, _, _ := newTestRefresher(nil)

	if refresher.config == nil {
		t.Fatal("Refresher config should not be nil")
	}

	if refresher.running {
		t.Error("Refresher should not be running initially")
	}

	if refresher.View() != nil {
		t.Error("View should be nil before the first refresh")
	}

	stats := refresher.GetStats()
	if stats.TotalRefreshes != 0 || stats.TotalNotifications != 0 || stats.TotalErrors != 0 {
		t.Errorf("initial stats = %+v, want zeros", stats)
	}
}

func TestProjectionRefresher_Refresh(t *testing.T) {
	refresher, client, _ := newTestRefresher(nil)
	ctx := context.Background()

	if _, err := client.SaveOrganisation(ctx, &domain.Organisation{
		EthAddress: caller, Thematics: []int{1}, Countries: []int{3}, Whitelisted: []string{"0xdef"},
	}); err != nil {
		t.Fatalf("SaveOrganisation() error = %v", err)
	}
	if _, err := client.SaveContest(ctx, &domain.Contest{
		Name: "Clean Water", Thematics: []int{1}, Countries: []int{3},
		VotingEndDate: time.Now().Add(time.Hour).UnixMilli(),
	}); err != nil {
		t.Fatalf("SaveContest() error = %v", err)
	}

	view, err := refresher.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if len(view.Contests) != 1 {
		t.Errorf("len(Contests) = %d, want 1", len(view.Contests))
	}

	if len(view.Members) != 1 || view.Members[0].Status != domain.MemberPending {
		t.Errorf("Members = %+v, want one pending member", view.Members)
	}

	if refresher.View() != view {
		t.Error("View() should return the latest refresh")
	}

	if refresher.GetStats().TotalRefreshes != 1 {
		t.Errorf("TotalRefreshes = %d, want 1", refresher.GetStats().TotalRefreshes)
	}
}

func TestProjectionRefresher_StartStop(t *testing.T) {
	refresher, client, store := newTestRefresher(&RefresherConfig{Debounce: time.Millisecond})
	ctx := context.Background()

	if err := refresher.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !refresher.IsRunning() {
		t.Error("Refresher should be running after Start()")
	}

	if err := refresher.Start(ctx); err != ErrAlreadyRunning {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyRunning)
	}

	if view := refresher.View(); view == nil || view.Organisation != nil {
		t.Fatalf("initial view = %+v, want empty view", view)
	}

	if _, err := client.SaveOrganisation(ctx, &domain.Organisation{
		EthAddress: caller, Thematics: []int{1}, Countries: []int{3},
	}); err != nil {
		t.Fatalf("SaveOrganisation() error = %v", err)
	}

	waitFor(t, func() bool {
		view := refresher.View()
		return view != nil && view.Organisation != nil
	})

	if refresher.GetStats().TotalNotifications == 0 {
		t.Error("TotalNotifications should count the save")
	}

	refresher.Stop()

	if refresher.IsRunning() {
		t.Error("Refresher should not be running after Stop()")
	}

	if store.Feed().SubscriberCount(projection.Organisations) != 0 {
		t.Error("Stop() should cancel every subscription")
	}

	// a second Stop is a no-op
	refresher.Stop()
}

func TestProjectionRefresher_Resync(t *testing.T) {
	refresher, _, _ := newTestRefresher(&RefresherConfig{ResyncInterval: 10 * time.Millisecond})

	if err := refresher.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer refresher.Stop()

	waitFor(t, func() bool {
		return refresher.GetStats().TotalRefreshes >= 3
	})
}
