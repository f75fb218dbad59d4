package attendance

import (
	"context"
	"strconv"

	"faceattend/internal/calendar"
)

// SummaryEntry is one employee present today.
type SummaryEntry struct {
	EmployeeID   string `json:"emp_no"`
	EmployeeName string `json:"emp_name"`
	TodayTime    string `json:"today_time"`
	MonthTotal   int    `json:"tot_att_per_month"`
}

// TodaySummary counts today's attendance.
type TodaySummary struct {
	Present      int    `json:"present"`
	LastRecorded string `json:"last_recorded,omitempty"`
}

// MonthEntry is one employee's days in a month.
type MonthEntry struct {
	EmployeeID   string            `json:"emp_no"`
	EmployeeName string            `json:"emp_name"`
	Days         map[string]string `json:"days"`
	Total        int               `json:"total"`
}

// Reporter builds read-only views of the attendance tree.
type Reporter struct {
	repo *Repository
	cal  *calendar.Calendar
}

// NewReporter creates a reporter.
func NewReporter(repo *Repository, cal *calendar.Calendar) *Reporter {
	return &Reporter{repo: repo, cal: cal}
}

// Daily lists employees with an entry today, ordered by employee id. The
// month total counts every day stored for the employee this month.
func (r *Reporter) Daily(ctx context.Context) ([]SummaryEntry, error) {
	s := r.cal.Now()
	month, err := r.repo.Month(ctx, s.YearKey(), s.Month)
	if err != nil {
		return nil, err
	}

	entries := []SummaryEntry{}
	if month == nil {
		return entries, nil
	}
	for _, emp := range month.Children {
		today := emp.Child(s.Day)
		if today == nil {
			continue
		}
		name, err := r.repo.EmployeeName(ctx, emp.Key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, SummaryEntry{
			EmployeeID:   emp.Key,
			EmployeeName: name,
			TodayTime:    today.Value,
			MonthTotal:   emp.Len(),
		})
	}
	return entries, nil
}

// TodayCount returns how many employees have an entry today and the latest
// of their times. Times are HH:MM:SS, so string order is chronological.
func (r *Reporter) TodayCount(ctx context.Context) (TodaySummary, error) {
	s := r.cal.Now()
	month, err := r.repo.Month(ctx, s.YearKey(), s.Month)
	if err != nil {
		return TodaySummary{}, err
	}

	var sum TodaySummary
	if month == nil {
		return sum, nil
	}
	latest := ""
	for _, emp := range month.Children {
		today := emp.Child(s.Day)
		if today == nil {
			continue
		}
		sum.Present++
		if today.Value > latest {
			latest = today.Value
		}
	}
	if sum.Present > 0 {
		s.Time = latest
		sum.LastRecorded = s.String()
	}
	return sum, nil
}

// Monthly returns every employee's days for the given month.
func (r *Reporter) Monthly(ctx context.Context, year int, month string) ([]MonthEntry, error) {
	node, err := r.repo.Month(ctx, strconv.Itoa(year), month)
	if err != nil {
		return nil, err
	}

	entries := []MonthEntry{}
	if node == nil {
		return entries, nil
	}
	for _, emp := range node.Children {
		name, err := r.repo.EmployeeName(ctx, emp.Key)
		if err != nil {
			return nil, err
		}
		days := make(map[string]string, emp.Len())
		for _, d := range emp.Children {
			days[d.Key] = d.Value
		}
		entries = append(entries, MonthEntry{
			EmployeeID:   emp.Key,
			EmployeeName: name,
			Days:         days,
			Total:        len(days),
		})
	}
	return entries, nil
}
