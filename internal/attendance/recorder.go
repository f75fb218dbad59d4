package attendance

import (
	"context"

	"faceattend/internal/calendar"
	"faceattend/internal/metrics"
)

// Recorder writes attendance entries stamped with the current time.
type Recorder struct {
	repo *Repository
	cal  *calendar.Calendar
}

// NewRecorder creates a recorder.
func NewRecorder(repo *Repository, cal *calendar.Calendar) *Recorder {
	return &Recorder{repo: repo, cal: cal}
}

// Record stores the current time for employeeID today. A second call on the
// same day replaces the first time; there is no duplicate guard.
func (r *Recorder) Record(ctx context.Context, employeeID string) (calendar.Stamp, error) {
	s := r.cal.Now()
	if err := r.repo.SetTime(ctx, s, employeeID); err != nil {
		return calendar.Stamp{}, err
	}
	metrics.Records.Inc()
	return s, nil
}
