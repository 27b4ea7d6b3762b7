package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ironlayer/ironlayer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu          sync.Mutex
	tenants     []*types.Tenant
	due         map[string][]*types.Schedule
	tenantsErr  error
	dueErr      error
	sweepCalls  int
	sweepBefore time.Time
}

func (f *fakeStore) ListTenants(ctx context.Context) ([]*types.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tenantsErr != nil {
		return nil, f.tenantsErr
	}
	return f.tenants, nil
}

func (f *fakeStore) ListDueSchedules(ctx context.Context, tenantID string, now time.Time) ([]*types.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	return f.due[tenantID], nil
}

func (f *fakeStore) DeleteExpiredRevocations(ctx context.Context, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweepCalls++
	f.sweepBefore = before
	return 2, nil
}

type fakeRunner struct {
	mu   sync.Mutex
	ran  []string
	fail map[string]error
}

func (f *fakeRunner) RunSchedule(ctx context.Context, schedule *types.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, schedule.ID)
	return f.fail[schedule.ID]
}

func TestTickRunsDueSchedulesPerTenant(t *testing.T) {
	store := &fakeStore{
		tenants: []*types.Tenant{{ID: "t-a"}, {ID: "t-b"}},
		due: map[string][]*types.Schedule{
			"t-a": {{ID: "s-1", TenantID: "t-a"}, {ID: "s-2", TenantID: "t-a"}},
			"t-b": {{ID: "s-3", TenantID: "t-b"}},
		},
	}
	runner := &fakeRunner{}
	s := New(store, runner, Config{})

	s.Tick(context.Background())

	assert.Equal(t, []string{"s-1", "s-2", "s-3"}, runner.ran)
	assert.Equal(t, 1, store.sweepCalls)
}

func TestTickContinuesPastRunnerFailure(t *testing.T) {
	store := &fakeStore{
		tenants: []*types.Tenant{{ID: "t-a"}},
		due: map[string][]*types.Schedule{
			"t-a": {{ID: "s-1"}, {ID: "s-2"}},
		},
	}
	runner := &fakeRunner{fail: map[string]error{"s-1": errors.New("repo unreachable")}}
	s := New(store, runner, Config{})

	s.Tick(context.Background())

	assert.Equal(t, []string{"s-1", "s-2"}, runner.ran)
	assert.Equal(t, 1, store.sweepCalls, "sweep still runs after a failed schedule")
}

func TestTickSkipsSweepWhenTenantListingFails(t *testing.T) {
	store := &fakeStore{tenantsErr: errors.New("store offline")}
	runner := &fakeRunner{}
	s := New(store, runner, Config{})

	s.Tick(context.Background())

	assert.Empty(t, runner.ran)
	assert.Zero(t, store.sweepCalls)
}

func TestTickUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{tenants: []*types.Tenant{}}
	s := New(store, &fakeRunner{}, Config{Clock: func() time.Time { return fixed }})

	s.Tick(context.Background())

	require.Equal(t, 1, store.sweepCalls)
	assert.Equal(t, fixed, store.sweepBefore)
}

func TestStartStop(t *testing.T) {
	store := &fakeStore{tenants: []*types.Tenant{}}
	s := New(store, &fakeRunner{}, Config{PollInterval: 10 * time.Millisecond})

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	store.mu.Lock()
	calls := store.sweepCalls
	store.mu.Unlock()
	assert.Greater(t, calls, 0, "at least one tick should have fired")
}
