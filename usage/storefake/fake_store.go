package storefake

import (
	"context"
	"sync"

	"github.com/covergen/go-session-service/subscription"
	"github.com/covergen/go-session-service/usage"
)

var _ usage.Store = (*FakeUsageStore)(nil)

// FakeUsageStore is a scriptable usage.Store for tests. Responses are set
// up front; calls are recorded for assertions.
type FakeUsageStore struct {
	lock sync.Mutex

	CheckResult *usage.Limits
	CheckErr    error

	IncrementResult *usage.Limits
	IncrementErr    error

	CheckCalls     int
	IncrementCalls int
}

func NewFakeUsageStore() *FakeUsageStore {
	return &FakeUsageStore{}
}

func (s *FakeUsageStore) CheckGenerationLimit(_ context.Context, _ string, _ subscription.Tier) (*usage.Limits, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.CheckCalls++
	if s.CheckErr != nil {
		return nil, s.CheckErr
	}
	if s.CheckResult == nil {
		return &usage.Limits{}, nil
	}
	copied := *s.CheckResult
	return &copied, nil
}

func (s *FakeUsageStore) Increment(_ context.Context, _ string, _ subscription.Tier) (*usage.Limits, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.IncrementCalls++
	if s.IncrementErr != nil {
		return nil, s.IncrementErr
	}
	if s.IncrementResult == nil {
		return &usage.Limits{}, nil
	}
	copied := *s.IncrementResult
	return &copied, nil
}
