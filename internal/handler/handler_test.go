package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attempt"
	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/calendar"
	"faceattend/internal/queue"
	"faceattend/internal/registry"
	"faceattend/internal/scan"
	"faceattend/internal/staging"
	"faceattend/internal/tree"
)

type stubScanner struct {
	res scan.Result
	err error
}

func (s *stubScanner) Identify(ctx context.Context, path string) (scan.Result, error) {
	return s.res, s.err
}

type stubFaces struct{ err error }

func (s *stubFaces) Compute(ctx context.Context, path string) ([]float32, error) {
	return []float32{1}, s.err
}

type fixture struct {
	router   *gin.Engine
	scanner  *stubScanner
	faces    *stubFaces
	attempts *attempt.Memory
	queue    *queue.InMemory
	issuer   *auth.Issuer
	kiosk    string
	admin    string
}

func newFixture(t *testing.T, checks ...Check) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	st, err := staging.New(filepath.Join(dir, "temp"))
	if err != nil {
		t.Fatalf("staging.New: %v", err)
	}
	reg, err := registry.New(filepath.Join(dir, "registry"))
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	loc, _ := time.LoadLocation("Asia/Colombo")
	cal, err := calendar.New("Asia/Colombo", calendar.FixedClock{T: time.Date(2024, time.March, 7, 9, 5, 0, 0, loc)})
	if err != nil {
		t.Fatalf("calendar.New: %v", err)
	}

	repo := attendance.NewRepository(tree.NewMemory())
	sc := &stubScanner{}
	faces := &stubFaces{}
	svc := attendance.NewService(st, sc, attendance.NewRecorder(repo, cal), repo, reg, faces, nil)
	issuer := auth.NewIssuer("faceattend", "test-key", time.Minute, time.Hour)

	f := &fixture{
		scanner:  sc,
		faces:    faces,
		attempts: attempt.NewMemory(),
		queue:    queue.NewInMemory(8),
		issuer:   issuer,
	}
	h := New(Deps{
		Service:     svc,
		Reporter:    attendance.NewReporter(repo, cal),
		Attempts:    f.attempts,
		Queue:       f.queue,
		Staging:     st,
		Issuer:      issuer,
		KioskSecret: "kiosk-secret",
		AdminSecret: "admin-secret",
		Checks:      checks,
	})
	f.router = Router(h, RouterOptions{})

	kiosk, _ := issuer.Issue("kiosk-1", auth.RoleKiosk)
	admin, _ := issuer.Issue("admin", auth.RoleAdmin)
	f.kiosk, f.admin = kiosk.AccessToken, admin.AccessToken
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func photoRequest(t *testing.T, path string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	part, err := mw.CreateFormFile("photo", "face.jpg")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("jpeg bytes"))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t,
		Check{Name: "tree", Run: func(ctx context.Context) error { return nil }},
		Check{Name: "face", Run: func(ctx context.Context) error { return errors.New("down") }},
	)
	w := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil), "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, w, &body)
	if body.Status != "degraded" || body.Checks["tree"] != "ok" || body.Checks["face"] != "down" {
		t.Errorf("unexpected body %+v", body)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestKioskToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, jsonRequest(http.MethodPost, "/v1/kiosks/token", gin.H{"kiosk_id": "k1", "secret": "wrong"}), "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}

	w = f.do(t, jsonRequest(http.MethodPost, "/v1/kiosks/token", gin.H{"kiosk_id": "k1", "secret": "kiosk-secret"}), "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var pair auth.TokenPair
	decode(t, w, &pair)
	claims, err := f.issuer.Parse(pair.AccessToken)
	if err != nil || claims.Subject != "k1" || claims.Role != auth.RoleKiosk {
		t.Errorf("unexpected claims %+v, %v", claims, err)
	}

	w = f.do(t, jsonRequest(http.MethodPost, "/v1/tokens/refresh", gin.H{"refresh_token": pair.RefreshToken}), "")
	if w.Code != http.StatusOK {
		t.Errorf("expected refresh 200, got %d", w.Code)
	}
}

func TestAdminToken(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, jsonRequest(http.MethodPost, "/v1/admin/token", gin.H{"secret": "admin-secret"}), "")
	if w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", w.Code)
	}
}

func TestMarkAttendance_RecordsAndReports(t *testing.T) {
	f := newFixture(t)
	f.scanner.res = scan.Result{Matched: true, EmployeeID: "E001", Distance: 0.42}

	if w := f.do(t, photoRequest(t, "/v1/attendance", nil), ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	w := f.do(t, photoRequest(t, "/v1/attendance", nil), f.kiosk)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out attendance.Outcome
	decode(t, w, &out)
	if !out.Matched || out.EmployeeID != "E001" || out.Time != "09:05:00" {
		t.Errorf("unexpected outcome %+v", out)
	}

	if w := f.do(t, httptest.NewRequest(http.MethodGet, "/v1/attendance/today", nil), f.kiosk); w.Code != http.StatusForbidden {
		t.Errorf("expected kiosk forbidden from reports, got %d", w.Code)
	}

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/v1/attendance/today", nil), f.admin)
	var today struct {
		Entries []attendance.SummaryEntry `json:"entries"`
	}
	decode(t, w, &today)
	if len(today.Entries) != 1 || today.Entries[0].EmployeeID != "E001" || today.Entries[0].MonthTotal != 1 {
		t.Errorf("unexpected daily report %+v", today)
	}

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/v1/attendance/count", nil), f.admin)
	var count attendance.TodaySummary
	decode(t, w, &count)
	if count.Present != 1 || count.LastRecorded != "2024-March-07 09:05:00" {
		t.Errorf("unexpected count %+v", count)
	}

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/v1/attendance/2024/3", nil), f.admin)
	var month struct {
		Month   string                  `json:"month"`
		Entries []attendance.MonthEntry `json:"entries"`
	}
	decode(t, w, &month)
	if month.Month != "March" || len(month.Entries) != 1 || month.Entries[0].Days["07"] != "09:05:00" {
		t.Errorf("unexpected monthly report %+v", month)
	}
}

func TestMarkAttendance_NoMatch(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, photoRequest(t, "/v1/attendance", nil), f.kiosk)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out attendance.Outcome
	decode(t, w, &out)
	if out.Matched {
		t.Errorf("expected no match, got %+v", out)
	}
}

func TestMarkAttendance_UnreadableUploadIsUnmatched(t *testing.T) {
	f := newFixture(t)
	f.faces.err = errors.New("represent: 503 service unavailable")
	f.scanner.res = scan.Result{
		Candidates: []scan.Candidate{{EmployeeID: "E1", Error: "Face could not be detected"}},
		Failed:     1,
	}

	w := f.do(t, photoRequest(t, "/v1/attendance", nil), f.kiosk)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out attendance.Outcome
	decode(t, w, &out)
	if out.Matched || out.Failed != 1 {
		t.Errorf("expected unmatched with one failure, got %+v", out)
	}
}

func TestMarkAttendance_MissingPhoto(t *testing.T) {
	f := newFixture(t)
	req := jsonRequest(http.MethodPost, "/v1/attendance", gin.H{})
	if w := f.do(t, req, f.kiosk); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestMarkAttendanceAsync(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, photoRequest(t, "/v1/attendance/async", nil), f.kiosk)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var body struct {
		AttemptID string `json:"attempt_id"`
	}
	decode(t, w, &body)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/v1/attempts/"+body.AttemptID, nil), f.kiosk)
	var a attempt.Attempt
	decode(t, w, &a)
	if a.Status != attempt.StatusPending || a.KioskID != "kiosk-1" {
		t.Errorf("unexpected attempt %+v", a)
	}

	other, _ := f.issuer.Issue("kiosk-2", auth.RoleKiosk)
	if w := f.do(t, httptest.NewRequest(http.MethodGet, "/v1/attempts/"+body.AttemptID, nil), other.AccessToken); w.Code != http.StatusNotFound {
		t.Errorf("expected other kiosk to get 404, got %d", w.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, _ := f.queue.Consume(ctx)
	select {
	case msg := <-msgs:
		if msg.Type != queue.TypeIdentify || msg.Body != body.AttemptID {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
}

func TestGetAttempt_NotFound(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, httptest.NewRequest(http.MethodGet, "/v1/attempts/nope", nil), f.admin); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestEmployees(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, photoRequest(t, "/v1/employees", map[string]string{"employee_id": "E010", "name": "Sunil"}), f.admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	f.faces.err = errors.New("Face could not be detected")
	w = f.do(t, photoRequest(t, "/v1/employees", map[string]string{"employee_id": "E011"}), f.admin)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 without a face, got %d", w.Code)
	}
	f.faces.err = nil

	w = f.do(t, photoRequest(t, "/v1/employees", map[string]string{"employee_id": "../x"}), f.admin)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", w.Code)
	}

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/v1/employees", nil), f.admin)
	var list struct {
		Employees []map[string]string `json:"employees"`
	}
	decode(t, w, &list)
	if len(list.Employees) != 1 || list.Employees[0]["emp_no"] != "E010" || list.Employees[0]["file"] != "E010.jpg" {
		t.Errorf("unexpected list %+v", list)
	}

	if w := f.do(t, httptest.NewRequest(http.MethodDelete, "/v1/employees/E010", nil), f.admin); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w := f.do(t, httptest.NewRequest(http.MethodDelete, "/v1/employees/E010", nil), f.admin); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMonthly_BadParams(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/v1/attendance/year/March", "/v1/attendance/2024/Smarch", "/v1/attendance/2024/13"} {
		if w := f.do(t, httptest.NewRequest(http.MethodGet, path, nil), f.admin); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestClearStaging(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, httptest.NewRequest(http.MethodPost, "/v1/staging/clear", nil), f.admin); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestMonthName(t *testing.T) {
	cases := map[string]string{"3": "March", "march": "March", "DECEMBER": "December"}
	for in, want := range cases {
		if got, ok := monthName(in); !ok || got != want {
			t.Errorf("monthName(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := monthName("0"); ok {
		t.Error("expected 0 rejected")
	}
}
