// Package gormrepo persists subscription records in a relational store via
// GORM. A single row per user, replaced wholesale on every upsert.
package gormrepo

import (
	"context"
	"time"

	"github.com/covergen/go-session-service/subscription"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ subscription.Repo = (*Repo)(nil)

type subscriptionRow struct {
	UserID            string `gorm:"primaryKey;size:64"`
	Tier              string `gorm:"size:16;not null"`
	Status            string `gorm:"size:16;not null"`
	CustomerID        string `gorm:"size:64;index"`
	SubscriptionID    string `gorm:"size:64"`
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	TrialEndsAt       *time.Time
	UpdatedAt         time.Time
}

func (subscriptionRow) TableName() string { return "subscriptions" }

// Repo is a GORM-backed subscription.Repo.
type Repo struct {
	db *gorm.DB
}

// New migrates the subscriptions table and returns a ready repo.
func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&subscriptionRow{}); err != nil {
		return nil, errors.Wrap(err, "[gormrepo.New] migrate subscriptions")
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Get(ctx context.Context, userID string) (*subscription.Record, error) {
	var row subscriptionRow
	err := r.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscription.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Repo.Get] query subscription")
	}
	return &subscription.Record{
		UserID:            row.UserID,
		Tier:              subscription.Tier(row.Tier),
		Status:            subscription.Status(row.Status),
		CustomerID:        row.CustomerID,
		SubscriptionID:    row.SubscriptionID,
		CurrentPeriodEnd:  row.CurrentPeriodEnd,
		CancelAtPeriodEnd: row.CancelAtPeriodEnd,
		TrialEndsAt:       row.TrialEndsAt,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

func (r *Repo) Upsert(ctx context.Context, record *subscription.Record) error {
	row := subscriptionRow{
		UserID:            record.UserID,
		Tier:              string(record.Tier),
		Status:            string(record.Status),
		CustomerID:        record.CustomerID,
		SubscriptionID:    record.SubscriptionID,
		CurrentPeriodEnd:  record.CurrentPeriodEnd,
		CancelAtPeriodEnd: record.CancelAtPeriodEnd,
		TrialEndsAt:       record.TrialEndsAt,
		UpdatedAt:         time.Now(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	return errors.Wrap(err, "[Repo.Upsert] upsert subscription")
}
