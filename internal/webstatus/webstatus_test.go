package webstatus

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mirahollis/classphoto-organizer/internal/orchestrator"
	"github.com/mirahollis/classphoto-organizer/internal/report"
)

type fakeObserver struct {
	run orchestrator.Run
}

func (f fakeObserver) LastRun() orchestrator.Run { return f.run }

func TestHealthzAlwaysOK(t *testing.T) {
	s := NewServer("127.0.0.1:0", fakeObserver{}, "insightface", "buffalo_l")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestStatusReflectsInProgressRun(t *testing.T) {
	observer := fakeObserver{run: orchestrator.Run{RunID: "run-1", InProgress: true, StartedAt: time.Now()}}
	s := NewServer("127.0.0.1:0", observer, "insightface", "buffalo_l")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var resp statusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.InProgress {
		t.Error("InProgress = false, want true")
	}
	if resp.Report != nil {
		t.Error("Report should be nil while a run is in progress")
	}
	if resp.BackendEngine != "insightface" {
		t.Errorf("BackendEngine = %q, want insightface", resp.BackendEngine)
	}
}

func TestStatusReflectsCompletedRunReport(t *testing.T) {
	observer := fakeObserver{run: orchestrator.Run{
		RunID:    "run-2",
		ExitCode: 0,
		Report: report.Data{
			SuccessCount:      3,
			NoFaceCount:       1,
			PersonMatchCounts: map[string]int{"Alice": 2},
		},
	}}
	s := NewServer("127.0.0.1:0", observer, "insightface", "buffalo_l")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var resp statusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.InProgress {
		t.Error("InProgress = true, want false")
	}
	if resp.Report == nil {
		t.Fatal("Report = nil, want populated")
	}
	if resp.Report.SuccessCount != 3 {
		t.Errorf("SuccessCount = %d, want 3", resp.Report.SuccessCount)
	}
	if resp.Report.PersonMatchCounts["Alice"] != 2 {
		t.Errorf("PersonMatchCounts[Alice] = %d, want 2", resp.Report.PersonMatchCounts["Alice"])
	}
}
