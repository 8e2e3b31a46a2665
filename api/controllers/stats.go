package controllers

import (
	"net/http"

	"github.com/pulseboard/pulseboard-backend/api/responses"
	"github.com/pulseboard/pulseboard-backend/api/validators"
	"github.com/pulseboard/pulseboard-backend/internal/analytics"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

const defaultTopEventsLimit = 10

// StatsDAU returns distinct active users per day for the requested range.
func StatsDAU(service analytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		from, err := validators.ParseQueryDate(r, "from_date")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		to, err := validators.ParseQueryDate(r, "to_date")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, err := service.DailyActiveUsers(ctx, from, to)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if rows == nil {
			rows = []analytics.DAURow{}
		}

		responses.WriteSuccess(w, rows)
	}
}

// StatsTopEvents returns the most frequent event types for the requested range.
func StatsTopEvents(service analytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		from, err := validators.ParseQueryDate(r, "from_date")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		to, err := validators.ParseQueryDate(r, "to_date")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultTopEventsLimit, 1, analytics.MaxTopEventsLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, err := service.TopEvents(ctx, from, to, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if rows == nil {
			rows = []analytics.TopEventRow{}
		}

		responses.WriteSuccess(w, rows)
	}
}

// StatsRetention returns the cohort retention breakdown starting at start_date.
func StatsRetention(service analytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		start, err := validators.ParseQueryDate(r, "start_date")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		windows, err := validators.ParseQueryInt(r, "windows", 4, 1, analytics.MaxRetentionWindows)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		windowType := analytics.WindowType(validators.ParseQueryString(r, "window_type", string(analytics.WindowDay)))

		cohort, err := service.Retention(ctx, start, windows, windowType)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if cohort == nil {
			// No activity in the cohort window; an empty object would imply
			// a cohort of zero users with zero windows, so say so explicitly.
			responses.WriteSuccess(w, analytics.RetentionCohort{
				CohortDate:       start.Format("2006-01-02"),
				UsersCount:       0,
				RetentionWindows: []float64{},
			})
			return
		}

		responses.WriteSuccess(w, cohort)
	}
}
