package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	pkgerrors "github.com/pulseboard/pulseboard-backend/pkg/errors"
)

const (
	// MaxTopEventsLimit bounds the top-events limit parameter.
	MaxTopEventsLimit = 100
	// MaxRetentionWindows bounds the retention window count.
	MaxRetentionWindows = 12
)

// Service computes aggregate statistics from the persisted event log. Every
// query is read-only and computed at call time; there is no materialization
// or cache in between, so replayed deliveries never skew the numbers as long
// as the store stays idempotent on event_id.
type Service interface {
	DailyActiveUsers(ctx context.Context, from, to time.Time) ([]DAURow, error)
	TopEvents(ctx context.Context, from, to time.Time, limit int) ([]TopEventRow, error)
	Retention(ctx context.Context, start time.Time, windows int, windowType WindowType) (*RetentionCohort, error)
}

type service struct {
	db *gorm.DB
}

// NewService binds the aggregation queries to a GORM DB.
func NewService(db *gorm.DB) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	return &service{db: db}, nil
}

// dateExpr renders occurred_at as a YYYY-MM-DD string. Production runs on
// Postgres; the sqlite branch keeps the queries testable against the
// in-memory driver.
func (s *service) dateExpr() string {
	if s.db.Dialector.Name() == "sqlite" {
		return "strftime('%Y-%m-%d', occurred_at)"
	}
	return "to_char(occurred_at, 'YYYY-MM-DD')"
}

// DailyActiveUsers counts distinct users per calendar day in the inclusive
// range [from, to]. Days without events are omitted, not zero-filled.
func (s *service) DailyActiveUsers(ctx context.Context, from, to time.Time) ([]DAURow, error) {
	if to.Before(from) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "to_date must not precede from_date")
	}

	expr := s.dateExpr()
	query := fmt.Sprintf(`
SELECT %s AS date, COUNT(DISTINCT user_id) AS unique_users
FROM events
WHERE %s BETWEEN ? AND ?
GROUP BY date
ORDER BY date ASC`, expr, expr)

	var rows []DAURow
	err := s.db.WithContext(ctx).
		Raw(query, dateParam(from), dateParam(to)).
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "querying daily active users")
	}
	return rows, nil
}

// TopEvents returns the limit most frequent event types in the inclusive
// range [from, to], ordered by count descending. Equal counts order
// lexicographically on event_type so results are deterministic across
// storage engines.
func (s *service) TopEvents(ctx context.Context, from, to time.Time, limit int) ([]TopEventRow, error) {
	if to.Before(from) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "to_date must not precede from_date")
	}
	if limit < 1 || limit > MaxTopEventsLimit {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("limit must be between 1 and %d", MaxTopEventsLimit))
	}

	expr := s.dateExpr()
	query := fmt.Sprintf(`
SELECT event_type, COUNT(*) AS count
FROM events
WHERE %s BETWEEN ? AND ?
GROUP BY event_type
ORDER BY count DESC, event_type ASC
LIMIT ?`, expr)

	var rows []TopEventRow
	err := s.db.WithContext(ctx).
		Raw(query, dateParam(from), dateParam(to), limit).
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "querying top events")
	}
	return rows, nil
}

// Retention builds the cohort of distinct users active in
// [start, start+window) and measures how many of them return in each of the
// following windows. An empty cohort yields no cohort at all (nil result).
func (s *service) Retention(ctx context.Context, start time.Time, windows int, windowType WindowType) (*RetentionCohort, error) {
	if windows < 1 || windows > MaxRetentionWindows {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("windows must be between 1 and %d", MaxRetentionWindows))
	}
	if !windowType.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "window_type must be day or week")
	}

	windowSize := 24 * time.Hour
	if windowType == WindowWeek {
		windowSize = 7 * 24 * time.Hour
	}
	cohortStart := start.UTC().Truncate(24 * time.Hour)
	cohortEnd := cohortStart.Add(windowSize)

	var cohort *RetentionCohort
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cohortIDs []int64
		err := tx.Raw(`
SELECT DISTINCT user_id
FROM events
WHERE occurred_at >= ? AND occurred_at < ?`, cohortStart, cohortEnd).
			Scan(&cohortIDs).Error
		if err != nil {
			return fmt.Errorf("querying cohort: %w", err)
		}
		if len(cohortIDs) == 0 {
			return nil
		}

		rates := make([]float64, 0, windows)
		for w := 1; w <= windows; w++ {
			windowStart := cohortStart.Add(time.Duration(w) * windowSize)
			windowEnd := windowStart.Add(windowSize)

			var returning int64
			err := tx.Raw(`
SELECT COUNT(DISTINCT user_id)
FROM events
WHERE user_id IN ? AND occurred_at >= ? AND occurred_at < ?`,
				cohortIDs, windowStart, windowEnd).
				Scan(&returning).Error
			if err != nil {
				return fmt.Errorf("querying window %d: %w", w, err)
			}

			rate := float64(returning) / float64(len(cohortIDs)) * 100
			rates = append(rates, math.Round(rate*100)/100)
		}

		cohort = &RetentionCohort{
			CohortDate:       cohortStart.Format("2006-01-02"),
			UsersCount:       len(cohortIDs),
			RetentionWindows: rates,
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "querying retention")
	}
	return cohort, nil
}

func dateParam(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
