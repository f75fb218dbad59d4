package attendance

import (
	"context"
	"errors"

	"faceattend/internal/calendar"
	"faceattend/internal/tree"
)

const (
	attendanceRoot = "Attendance"
	employeeRoot   = "Employee"
)

// ErrEmployeeRequired is returned when an operation needs an employee id.
var ErrEmployeeRequired = errors.New("employee id required")

// Repository reads and writes the attendance tree:
//
//	Attendance/<year>/<month>/<employee-id>/<day> -> "HH:MM:SS"
//	Employee/<employee-id>/name                   -> display name
type Repository struct {
	tree tree.Tree
}

// NewRepository creates a repo.
func NewRepository(t tree.Tree) *Repository {
	return &Repository{tree: t}
}

func monthPath(year, month string) tree.Path {
	return tree.P(attendanceRoot, year, month)
}

// SetTime stores the time of day an employee was seen, overwriting any
// earlier value for the same day.
func (r *Repository) SetTime(ctx context.Context, s calendar.Stamp, employeeID string) error {
	if employeeID == "" {
		return ErrEmployeeRequired
	}
	return r.tree.Set(ctx, monthPath(s.YearKey(), s.Month).Child(employeeID, s.Day), s.Time)
}

// Month returns the month node whose children are employees and grandchildren days.
func (r *Repository) Month(ctx context.Context, year, month string) (*tree.Node, error) {
	return r.tree.Get(ctx, monthPath(year, month))
}

// EmployeeName returns the display name, or "" when none is stored.
func (r *Repository) EmployeeName(ctx context.Context, employeeID string) (string, error) {
	n, err := r.tree.Get(ctx, tree.P(employeeRoot, employeeID))
	if err != nil {
		return "", err
	}
	if name := n.Child("name"); name != nil {
		return name.Value, nil
	}
	return "", nil
}

// SetEmployeeName stores the display name.
func (r *Repository) SetEmployeeName(ctx context.Context, employeeID, name string) error {
	if employeeID == "" {
		return ErrEmployeeRequired
	}
	return r.tree.Set(ctx, tree.P(employeeRoot, employeeID, "name"), name)
}

// Ping checks the underlying store.
func (r *Repository) Ping(ctx context.Context) error {
	return r.tree.Ping(ctx)
}
