package analytics

// WindowType selects the retention window size.
type WindowType string

const (
	WindowDay  WindowType = "day"
	WindowWeek WindowType = "week"
)

// Valid reports whether the window type is one of the supported values.
func (w WindowType) Valid() bool {
	return w == WindowDay || w == WindowWeek
}

// DAURow is one day of distinct active users.
type DAURow struct {
	Date        string `json:"date"`
	UniqueUsers int64  `json:"unique_users"`
}

// TopEventRow is one event type with its occurrence count.
type TopEventRow struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

// RetentionCohort describes how a starting cohort returns across windows;
// index 0 of RetentionWindows is the first window after the cohort window.
type RetentionCohort struct {
	CohortDate       string    `json:"cohort_date"`
	UsersCount       int       `json:"users_count"`
	RetentionWindows []float64 `json:"retention_windows"`
}
