package attendance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"faceattend/internal/calendar"
	"faceattend/internal/cloudinary"
	"faceattend/internal/registry"
	"faceattend/internal/scan"
	"faceattend/internal/staging"
	"faceattend/internal/tree"
)

// mutableClock lets a test move time between calls.
type mutableClock struct{ t time.Time }

func (c *mutableClock) Now() time.Time { return c.t }

func newCalendar(t *testing.T, clock calendar.Clock) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New("Asia/Colombo", clock)
	if err != nil {
		t.Fatalf("calendar.New: %v", err)
	}
	return cal
}

func colombo(t *testing.T, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Colombo")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	return time.Date(2024, time.March, day, hour, min, 0, 0, loc)
}

func TestRecord_WritesPaddedDay(t *testing.T) {
	tr := tree.NewMemory()
	repo := NewRepository(tr)
	rec := NewRecorder(repo, newCalendar(t, calendar.FixedClock{T: colombo(t, 5, 9, 15)}))

	stamp, err := rec.Record(context.Background(), "E001")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if stamp.Day != "05" {
		t.Errorf("expected day 05, got %s", stamp.Day)
	}

	n, _ := tr.Get(context.Background(), tree.P("Attendance", "2024", "March", "E001", "05"))
	if n == nil || n.Value != "09:15:00" {
		t.Errorf("expected 09:15:00 stored, got %+v", n)
	}
}

func TestRecord_LastWriteWins(t *testing.T) {
	tr := tree.NewMemory()
	clock := &mutableClock{t: colombo(t, 12, 8, 0)}
	rec := NewRecorder(NewRepository(tr), newCalendar(t, clock))

	rec.Record(context.Background(), "E001")
	clock.t = colombo(t, 12, 17, 45)
	rec.Record(context.Background(), "E001")

	emp, _ := tr.Get(context.Background(), tree.P("Attendance", "2024", "March", "E001"))
	if emp.Len() != 1 {
		t.Fatalf("expected one value for the day, got %d", emp.Len())
	}
	if emp.Child("12").Value != "17:45:00" {
		t.Errorf("expected second time, got %s", emp.Child("12").Value)
	}
}

func TestRecord_RequiresEmployee(t *testing.T) {
	rec := NewRecorder(NewRepository(tree.NewMemory()), newCalendar(t, nil))
	if _, err := rec.Record(context.Background(), ""); !errors.Is(err, ErrEmployeeRequired) {
		t.Errorf("expected ErrEmployeeRequired, got %v", err)
	}
}

func seedMonth(t *testing.T, tr tree.Tree) {
	t.Helper()
	ctx := context.Background()
	month := tree.P("Attendance", "2024", "March")
	set := func(p tree.Path, v string) {
		if err := tr.Set(ctx, p, v); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	// Five employees this month; E002 and E004 are present on the 12th.
	set(month.Child("E001", "11"), "08:01:00")
	set(month.Child("E002", "11"), "08:02:00")
	set(month.Child("E002", "12"), "09:30:00")
	set(month.Child("E003", "10"), "08:03:00")
	set(month.Child("E004", "12"), "08:45:00")
	set(month.Child("E004", "01"), "08:05:00")
	set(month.Child("E004", "02"), "08:06:00")
	set(month.Child("E005", "09"), "08:07:00")
	set(tree.P("Employee", "E002", "name"), "Nimal Perera")
	set(tree.P("Employee", "E004", "name"), "Kumari Silva")
}

func TestTodayCount(t *testing.T) {
	tr := tree.NewMemory()
	seedMonth(t, tr)
	rep := NewReporter(NewRepository(tr), newCalendar(t, calendar.FixedClock{T: colombo(t, 12, 18, 0)}))

	sum, err := rep.TodayCount(context.Background())
	if err != nil {
		t.Fatalf("TodayCount: %v", err)
	}
	if sum.Present != 2 {
		t.Errorf("expected 2 present, got %d", sum.Present)
	}
	// E004 is visited last but E002's 09:30 is the latest time.
	if sum.LastRecorded != "2024-March-12 09:30:00" {
		t.Errorf("unexpected last recorded %q", sum.LastRecorded)
	}
}

func TestTodayCount_EmptyMonth(t *testing.T) {
	rep := NewReporter(NewRepository(tree.NewMemory()), newCalendar(t, nil))
	sum, err := rep.TodayCount(context.Background())
	if err != nil || sum.Present != 0 || sum.LastRecorded != "" {
		t.Errorf("expected empty summary, got %+v, %v", sum, err)
	}
}

func TestDaily(t *testing.T) {
	tr := tree.NewMemory()
	seedMonth(t, tr)
	rep := NewReporter(NewRepository(tr), newCalendar(t, calendar.FixedClock{T: colombo(t, 12, 18, 0)}))

	entries, err := rep.Daily(context.Background())
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	want := []SummaryEntry{
		{EmployeeID: "E002", EmployeeName: "Nimal Perera", TodayTime: "09:30:00", MonthTotal: 2},
		{EmployeeID: "E004", EmployeeName: "Kumari Silva", TodayTime: "08:45:00", MonthTotal: 3},
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d: expected %+v, got %+v", i, want[i], entries[i])
		}
	}
}

func TestRecordThenDaily(t *testing.T) {
	tr := tree.NewMemory()
	repo := NewRepository(tr)
	cal := newCalendar(t, calendar.FixedClock{T: colombo(t, 20, 10, 11)})

	stamp, err := NewRecorder(repo, cal).Record(context.Background(), "E777")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries, err := NewReporter(repo, cal).Daily(context.Background())
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if len(entries) != 1 || entries[0].EmployeeID != "E777" || entries[0].TodayTime != stamp.Time {
		t.Errorf("expected entry for E777 at %s, got %+v", stamp.Time, entries)
	}
}

func TestMonthly(t *testing.T) {
	tr := tree.NewMemory()
	seedMonth(t, tr)
	rep := NewReporter(NewRepository(tr), newCalendar(t, nil))

	entries, err := rep.Monthly(context.Background(), 2024, "March")
	if err != nil {
		t.Fatalf("Monthly: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 employees, got %d", len(entries))
	}
	if entries[3].EmployeeID != "E004" || entries[3].Total != 3 || entries[3].Days["01"] != "08:05:00" {
		t.Errorf("unexpected E004 entry %+v", entries[3])
	}

	none, err := rep.Monthly(context.Background(), 1999, "May")
	if err != nil || len(none) != 0 {
		t.Errorf("expected empty month, got %v, %v", none, err)
	}
}

type fakeScanner struct {
	res      scan.Result
	err      error
	gotPath  string
	contents string
}

func (f *fakeScanner) Identify(ctx context.Context, path string) (scan.Result, error) {
	f.gotPath = path
	data, _ := os.ReadFile(path)
	f.contents = string(data)
	return f.res, f.err
}

type fakeArchive struct {
	calls int
	err   error
}

func (f *fakeArchive) UploadFile(ctx context.Context, path, subfolder, publicID string) (*cloudinary.UploadResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &cloudinary.UploadResult{SecureURL: "https://cdn/" + subfolder + "/" + publicID}, nil
}

type fakeFaces struct {
	err   error
	calls int
}

func (f *fakeFaces) Compute(ctx context.Context, path string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func newService(t *testing.T, sc Identifier, archive Archiver) (*Service, *tree.Memory, *staging.Stager, *registry.Registry) {
	t.Helper()
	return newServiceWithFaces(t, sc, nil, archive)
}

func newServiceWithFaces(t *testing.T, sc Identifier, faces FaceChecker, archive Archiver) (*Service, *tree.Memory, *staging.Stager, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	st, err := staging.New(filepath.Join(dir, "temp"))
	if err != nil {
		t.Fatalf("staging.New: %v", err)
	}
	reg, err := registry.New(filepath.Join(dir, "registry"))
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	tr := tree.NewMemory()
	repo := NewRepository(tr)
	cal := newCalendar(t, calendar.FixedClock{T: colombo(t, 3, 8, 30)})
	return NewService(st, sc, NewRecorder(repo, cal), repo, reg, faces, archive), tr, st, reg
}

func TestMark_RecordsMatch(t *testing.T) {
	sc := &fakeScanner{res: scan.Result{Matched: true, EmployeeID: "E001", Distance: 0.3}}
	archive := &fakeArchive{}
	svc, tr, st, _ := newService(t, sc, archive)
	tr.Set(context.Background(), tree.P("Employee", "E001", "name"), "Asha")

	out, err := svc.Mark(context.Background(), "photo.jpg", strings.NewReader("capture"))
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if !out.Matched || out.EmployeeID != "E001" || out.EmployeeName != "Asha" || out.Time != "08:30:00" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.ArchiveURL != "https://cdn/2024-March/E001-03" {
		t.Errorf("unexpected archive url %q", out.ArchiveURL)
	}
	if sc.contents != "capture" {
		t.Errorf("scanner saw %q", sc.contents)
	}
	n, _ := tr.Get(context.Background(), tree.P("Attendance", "2024", "March", "E001", "03"))
	if n == nil || n.Value != "08:30:00" {
		t.Errorf("expected attendance stored, got %+v", n)
	}
	entries, _ := os.ReadDir(st.Dir())
	if len(entries) != 0 {
		t.Errorf("expected staged file removed, %d left", len(entries))
	}
}

func TestMark_NoMatchWritesNothing(t *testing.T) {
	sc := &fakeScanner{res: scan.Result{Candidates: []scan.Candidate{{EmployeeID: "E1"}}}}
	archive := &fakeArchive{}
	svc, tr, _, _ := newService(t, sc, archive)

	out, err := svc.Mark(context.Background(), "photo.jpg", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if out.Matched {
		t.Errorf("expected no match, got %+v", out)
	}
	if n, _ := tr.Get(context.Background(), tree.P("Attendance")); n != nil {
		t.Errorf("expected nothing written, got %+v", n)
	}
	if archive.calls != 0 {
		t.Errorf("expected no archive upload, got %d", archive.calls)
	}
}

func TestMark_ScanErrorPropagates(t *testing.T) {
	listErr := errors.New("registry unreadable")
	svc, _, _, _ := newService(t, &fakeScanner{err: listErr}, nil)

	if _, err := svc.Mark(context.Background(), "photo.jpg", strings.NewReader("x")); !errors.Is(err, listErr) {
		t.Errorf("expected registry error, got %v", err)
	}
}

func TestMark_DoesNotDependOnEmbeddings(t *testing.T) {
	sc := &fakeScanner{res: scan.Result{Matched: true, EmployeeID: "E1", Distance: 0.2}}
	faces := &fakeFaces{err: errors.New("represent: 503 service unavailable")}
	svc, _, _, _ := newServiceWithFaces(t, sc, faces, nil)

	out, err := svc.Mark(context.Background(), "photo.jpg", strings.NewReader("x"))
	if err != nil || !out.Matched || out.EmployeeID != "E1" {
		t.Errorf("expected match despite embedding outage, got %+v, %v", out, err)
	}
	if faces.calls != 0 {
		t.Errorf("expected no embedding calls while marking, got %d", faces.calls)
	}
}

func TestEnroll_RequiresDetectableFace(t *testing.T) {
	faces := &fakeFaces{err: errors.New("Face could not be detected")}
	svc, _, st, reg := newServiceWithFaces(t, &fakeScanner{}, faces, nil)

	_, err := svc.Enroll(context.Background(), "E060", "", "face.jpg", strings.NewReader("blank"))
	if !errors.Is(err, ErrNoFace) {
		t.Fatalf("expected ErrNoFace, got %v", err)
	}
	if refs, _ := reg.List(); len(refs) != 0 {
		t.Errorf("expected nothing enrolled, got %v", refs)
	}
	if left, _ := os.ReadDir(st.Dir()); len(left) != 0 {
		t.Errorf("expected staged photo removed, %d left", len(left))
	}

	faces.err = nil
	ref, err := svc.Enroll(context.Background(), "E060", "", "face.jpg", strings.NewReader("face"))
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	data, _ := os.ReadFile(ref.Path)
	if string(data) != "face" {
		t.Errorf("expected staged content enrolled, got %q", data)
	}
}

func TestEnroll_RejectsUnsupportedType(t *testing.T) {
	faces := &fakeFaces{}
	svc, _, _, _ := newServiceWithFaces(t, &fakeScanner{}, faces, nil)

	if _, err := svc.Enroll(context.Background(), "E061", "", "face.gif", strings.NewReader("x")); !errors.Is(err, registry.ErrUnsupportedImage) {
		t.Errorf("expected ErrUnsupportedImage, got %v", err)
	}
	if faces.calls != 0 {
		t.Errorf("expected no face check for rejected type, got %d", faces.calls)
	}
}

func TestMark_ArchiveFailureIsNotFatal(t *testing.T) {
	sc := &fakeScanner{res: scan.Result{Matched: true, EmployeeID: "E001"}}
	svc, _, _, _ := newService(t, sc, &fakeArchive{err: errors.New("cdn down")})

	out, err := svc.Mark(context.Background(), "photo.jpg", strings.NewReader("x"))
	if err != nil || !out.Matched || out.ArchiveURL != "" {
		t.Errorf("expected recorded match without archive url, got %+v, %v", out, err)
	}
}

func TestEnrollAndUnenroll(t *testing.T) {
	svc, tr, _, reg := newService(t, &fakeScanner{}, nil)
	ctx := context.Background()

	ref, err := svc.Enroll(ctx, "E050", "Ruwan", "face.PNG", strings.NewReader("png"))
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if filepath.Base(ref.Path) != "E050.png" {
		t.Errorf("unexpected reference path %s", ref.Path)
	}
	name, _ := NewRepository(tr).EmployeeName(ctx, "E050")
	if name != "Ruwan" {
		t.Errorf("expected name stored, got %q", name)
	}
	refs, _ := reg.List()
	if len(refs) != 1 {
		t.Errorf("expected one reference, got %d", len(refs))
	}

	if err := svc.Unenroll("E050"); err != nil {
		t.Errorf("Unenroll: %v", err)
	}
	if err := svc.Unenroll("E050"); !errors.Is(err, ErrUnknownEmployee) {
		t.Errorf("expected ErrUnknownEmployee, got %v", err)
	}
}
