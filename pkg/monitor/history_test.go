// Unit tests for the processed job history
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zipper177/Octolapse/pkg/process"
)

func TestJobLifecycle(t *testing.T) {
	h := NewJobHistory()

	job := h.StartJob("model.gcode", "model_wiped.gcode")
	if job.JobID == "" {
		t.Fatal("expected a job ID")
	}
	if job.Status != "in_progress" {
		t.Errorf("expected in_progress, got %q", job.Status)
	}

	finished := h.FinishJob("completed", process.Stats{
		LinesRead:     1000,
		LinesWritten:  1040,
		Retractions:   10,
		WipesInserted: 8,
		WipesSkipped:  2,
		PathReused:    24.5,
	})
	if finished == nil {
		t.Fatal("expected the finished job")
	}
	if finished.Status != "completed" {
		t.Errorf("expected completed, got %q", finished.Status)
	}
	if finished.EndTime == nil {
		t.Error("expected an end time")
	}
	if finished.WipesInserted != 8 || finished.PathReused != 24.5 {
		t.Errorf("expected stats on the job, got %+v", finished)
	}

	// No active job left.
	if again := h.FinishJob("completed", process.Stats{}); again != nil {
		t.Error("expected nil without an active job")
	}
}

func TestFinishJobByID(t *testing.T) {
	h := NewJobHistory()

	// Two overlapping jobs, closed out of order.
	first := h.StartJob("a.gcode", "a_wiped.gcode")
	second := h.StartJob("b.gcode", "b_wiped.gcode")

	done := h.FinishJobByID(first.JobID, "completed", process.Stats{WipesInserted: 2})
	if done == nil || done.Filename != "a.gcode" {
		t.Fatalf("expected a.gcode closed, got %v", done)
	}
	if done.WipesInserted != 2 {
		t.Errorf("expected stats on the job, got %+v", done)
	}

	// The second job is still the active one.
	if got, _ := h.GetJob(second.JobID); got.Status != "in_progress" {
		t.Errorf("expected b.gcode still running, got %q", got.Status)
	}

	if missing := h.FinishJobByID("nope", "completed", process.Stats{}); missing != nil {
		t.Errorf("expected nil for an unknown job, got %v", missing)
	}
}

func TestJobTotals(t *testing.T) {
	h := NewJobHistory()

	h.StartJob("a.gcode", "a_wiped.gcode")
	h.FinishJob("completed", process.Stats{LinesRead: 100, WipesInserted: 5, PathReused: 10})
	h.StartJob("b.gcode", "b_wiped.gcode")
	h.FinishJob("error", process.Stats{LinesRead: 50, WipesInserted: 1, PathReused: 2.5})

	totals := h.GetTotals()
	if totals.TotalJobs != 2 {
		t.Errorf("expected 2 jobs, got %d", totals.TotalJobs)
	}
	if totals.TotalLines != 150 {
		t.Errorf("expected 150 lines, got %d", totals.TotalLines)
	}
	if totals.TotalWipes != 6 {
		t.Errorf("expected 6 wipes, got %d", totals.TotalWipes)
	}
	if totals.TotalPathReused != 12.5 {
		t.Errorf("expected 12.5mm path, got %f", totals.TotalPathReused)
	}
}

func TestListJobs(t *testing.T) {
	h := NewJobHistory()

	for _, name := range []string{"a.gcode", "b.gcode", "c.gcode"} {
		h.StartJob(name, name)
		h.FinishJob("completed", process.Stats{})
	}

	// Most recent first by default.
	jobs := h.ListJobs(50, 0, 0, 0, "desc")
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].Filename != "c.gcode" {
		t.Errorf("expected c.gcode first, got %s", jobs[0].Filename)
	}

	// Pagination.
	jobs = h.ListJobs(1, 1, 0, 0, "desc")
	if len(jobs) != 1 || jobs[0].Filename != "b.gcode" {
		t.Errorf("expected only b.gcode, got %v", jobs)
	}

	// Start beyond the end.
	if jobs = h.ListJobs(10, 5, 0, 0, "desc"); jobs != nil {
		t.Errorf("expected no jobs, got %v", jobs)
	}
}

func TestDeleteJob(t *testing.T) {
	h := NewJobHistory()

	job := h.StartJob("a.gcode", "a_wiped.gcode")
	h.FinishJob("completed", process.Stats{})

	if err := h.DeleteJob(job.JobID); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if _, err := h.GetJob(job.JobID); err == nil {
		t.Error("expected the job gone")
	}
	if err := h.DeleteJob(job.JobID); err == nil {
		t.Error("expected an error for a missing job")
	}
}

func TestResetTotals(t *testing.T) {
	h := NewJobHistory()

	h.StartJob("a.gcode", "a_wiped.gcode")
	h.FinishJob("completed", process.Stats{WipesInserted: 3})

	h.ResetTotals()
	if h.Count() != 0 {
		t.Errorf("expected empty history, got %d jobs", h.Count())
	}
	if totals := h.GetTotals(); totals.TotalJobs != 0 {
		t.Errorf("expected zero totals, got %+v", totals)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	h := NewJobHistory()
	h.StartJob("model.gcode", "model_wiped.gcode")
	h.FinishJob("completed", process.Stats{LinesRead: 500, WipesInserted: 4})

	mux := http.NewServeMux()
	h.RegisterEndpoints(mux)

	// List
	req := httptest.NewRequest("GET", "/server/history/list", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	result := resp["result"].(map[string]any)
	if result["count"] != 1.0 {
		t.Errorf("expected count 1, got %v", result["count"])
	}
	jobs, ok := result["jobs"].([]any)
	if !ok || len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %v", result["jobs"])
	}
	job := jobs[0].(map[string]any)
	if job["filename"] != "model.gcode" {
		t.Errorf("expected filename, got %v", job["filename"])
	}
	if job["wipes_inserted"] != 4.0 {
		t.Errorf("expected 4 wipes, got %v", job["wipes_inserted"])
	}

	// Totals
	req = httptest.NewRequest("GET", "/server/history/totals", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	resp = map[string]any{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	totals := resp["result"].(map[string]any)["job_totals"].(map[string]any)
	if totals["total_jobs"] != 1.0 {
		t.Errorf("expected 1 total job, got %v", totals["total_jobs"])
	}

	// Job lookup by uid
	jobID := job["job_id"].(string)
	req = httptest.NewRequest("GET", "/server/history/job?uid="+jobID, nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	// Missing uid
	req = httptest.NewRequest("GET", "/server/history/job", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}

	// Delete
	req = httptest.NewRequest("DELETE", "/server/history/job?uid="+jobID, nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if h.Count() != 0 {
		t.Errorf("expected empty history after delete, got %d", h.Count())
	}

	// Reset requires POST
	req = httptest.NewRequest("GET", "/server/history/reset_totals", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
}
