// Package gormstore keeps per-user generation counters in a relational
// store. Counters roll over lazily: the row carries its day and month keys
// and is reset when a call arrives in a newer window, there is no cron.
package gormstore

import (
	"context"
	"time"

	"github.com/covergen/go-session-service/subscription"
	"github.com/covergen/go-session-service/usage"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var _ usage.Store = (*Store)(nil)

type usageRow struct {
	UserID    string `gorm:"primaryKey;size:64"`
	DayKey    string `gorm:"size:10;not null"`
	MonthKey  string `gorm:"size:7;not null"`
	DailyUsed int    `gorm:"not null"`
	MonthUsed int    `gorm:"not null"`
	TrialUsed int    `gorm:"not null"`
	UpdatedAt time.Time
}

func (usageRow) TableName() string { return "generation_usage" }

// Store is a GORM-backed usage.Store.
type Store struct {
	db      *gorm.DB
	nowTime func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// New migrates the usage table and returns a ready store.
func New(db *gorm.DB, options ...Option) (*Store, error) {
	if err := db.AutoMigrate(&usageRow{}); err != nil {
		return nil, errors.Wrap(err, "[gormstore.New] migrate usage")
	}
	s := &Store{db: db, nowTime: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Store) CheckGenerationLimit(ctx context.Context, userID string, tier subscription.Tier) (*usage.Limits, error) {
	row, err := s.loadCurrentRow(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	return s.limitsFor(row, tier), nil
}

func (s *Store) Increment(ctx context.Context, userID string, tier subscription.Tier) (*usage.Limits, error) {
	var limits *usage.Limits
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.loadCurrentRow(ctx, tx, userID)
		if err != nil {
			return err
		}
		allowance := usage.AllowanceFor(tier)
		if row.DailyUsed >= allowance.Daily || row.MonthUsed >= allowance.Monthly {
			// Over budget: report the unchanged counters rather than fail.
			limits = s.limitsFor(row, tier)
			return nil
		}
		row.DailyUsed++
		row.MonthUsed++
		row.TrialUsed++
		row.UpdatedAt = s.nowTime()
		if err := tx.Save(row).Error; err != nil {
			return errors.Wrap(err, "[Store.Increment] save usage")
		}
		limits = s.limitsFor(row, tier)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return limits, nil
}

// loadCurrentRow fetches (or creates) the user's counter row and applies
// window rollover for the current day and month.
func (s *Store) loadCurrentRow(ctx context.Context, tx *gorm.DB, userID string) (*usageRow, error) {
	now := s.nowTime().UTC()
	dayKey := now.Format("2006-01-02")
	monthKey := now.Format("2006-01")

	var row usageRow
	err := tx.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = usageRow{UserID: userID, DayKey: dayKey, MonthKey: monthKey, UpdatedAt: now}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return nil, errors.Wrap(err, "[Store.loadCurrentRow] create usage row")
		}
		return &row, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Store.loadCurrentRow] query usage row")
	}

	dirty := false
	if row.MonthKey != monthKey {
		row.MonthKey = monthKey
		row.MonthUsed = 0
		dirty = true
	}
	if row.DayKey != dayKey {
		row.DayKey = dayKey
		row.DailyUsed = 0
		dirty = true
	}
	if dirty {
		row.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(&row).Error; err != nil {
			return nil, errors.Wrap(err, "[Store.loadCurrentRow] rollover usage row")
		}
	}
	return &row, nil
}

func (s *Store) limitsFor(row *usageRow, tier subscription.Tier) *usage.Limits {
	allowance := usage.AllowanceFor(tier)
	remaining := allowance.Daily - row.DailyUsed
	if remaining < 0 {
		remaining = 0
	}
	return &usage.Limits{
		CanGenerate:    row.DailyUsed < allowance.Daily && row.MonthUsed < allowance.Monthly,
		RemainingDaily: remaining,
		DailyLimit:     allowance.Daily,
		MonthlyUsage:   row.MonthUsed,
		MonthlyLimit:   allowance.Monthly,
		TrialUsage:     row.TrialUsed,
		TrialLimit:     allowance.Trial,
	}
}
