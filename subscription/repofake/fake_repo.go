package repofake

import (
	"context"
	"sync"

	"github.com/covergen/go-session-service/subscription"
)

var _ subscription.Repo = (*FakeSubscriptionRepo)(nil)

// FakeSubscriptionRepo is an in-memory subscription.Repo for tests.
type FakeSubscriptionRepo struct {
	records map[string]*subscription.Record
	lock    sync.RWMutex

	// GetErr and UpsertErr, when set, are returned by the corresponding
	// method instead of touching the map.
	GetErr    error
	UpsertErr error

	UpsertCalls int
}

func NewFakeSubscriptionRepo() *FakeSubscriptionRepo {
	return &FakeSubscriptionRepo{
		records: make(map[string]*subscription.Record),
	}
}

func (r *FakeSubscriptionRepo) Get(_ context.Context, userID string) (*subscription.Record, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	rec, ok := r.records[userID]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (r *FakeSubscriptionRepo) Upsert(_ context.Context, record *subscription.Record) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.UpsertCalls++
	if r.UpsertErr != nil {
		return r.UpsertErr
	}
	copied := *record
	r.records[record.UserID] = &copied
	return nil
}

// Seed installs a record without going through Upsert bookkeeping.
func (r *FakeSubscriptionRepo) Seed(record *subscription.Record) {
	r.lock.Lock()
	defer r.lock.Unlock()
	copied := *record
	r.records[record.UserID] = &copied
}
