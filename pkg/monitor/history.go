// Processed job history endpoints for the monitor.
// Tracks preprocessed files and their wipe statistics.
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package monitor

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/zipper177/Octolapse/pkg/process"
)

// JobHistory records the files this process has preprocessed.
type JobHistory struct {
	mu   sync.RWMutex
	jobs map[string]*ProcessedJob
	// Most recent jobs first
	jobOrder []string

	// Current active job
	activeJobID string
}

// ProcessedJob is one preprocessed file record.
type ProcessedJob struct {
	JobID      string   `json:"job_id"`
	Exists     bool     `json:"exists"`
	Filename   string   `json:"filename"`
	OutputFile string   `json:"output_file"`
	Status     string   `json:"status"` // "in_progress", "completed", "error"
	StartTime  float64  `json:"start_time"`
	EndTime    *float64 `json:"end_time"`
	Duration   float64  `json:"duration"`

	LinesRead     int64   `json:"lines_read"`
	LinesWritten  int64   `json:"lines_written"`
	Retractions   int64   `json:"retractions"`
	WipesInserted int64   `json:"wipes_inserted"`
	WipesSkipped  int64   `json:"wipes_skipped"`
	PathReused    float64 `json:"path_reused_mm"`
}

// JobTotals holds aggregated statistics over all recorded jobs.
type JobTotals struct {
	TotalJobs       int     `json:"total_jobs"`
	TotalTime       float64 `json:"total_time"`
	TotalLines      int64   `json:"total_lines"`
	TotalWipes      int64   `json:"total_wipes"`
	TotalPathReused float64 `json:"total_path_reused_mm"`
	LongestJob      float64 `json:"longest_job"`
}

// NewJobHistory creates an empty job history.
func NewJobHistory() *JobHistory {
	return &JobHistory{
		jobs:     make(map[string]*ProcessedJob),
		jobOrder: make([]string, 0),
	}
}

// generateJobID generates a unique job ID.
func generateJobID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// StartJob records the beginning of a file run.
func (h *JobHistory) StartJob(filename, outputFile string) *ProcessedJob {
	h.mu.Lock()
	defer h.mu.Unlock()

	jobID := generateJobID()
	job := &ProcessedJob{
		JobID:      jobID,
		Exists:     true,
		Filename:   filename,
		OutputFile: outputFile,
		Status:     "in_progress",
		StartTime:  float64(time.Now().Unix()),
	}

	h.jobs[jobID] = job
	h.jobOrder = append([]string{jobID}, h.jobOrder...)
	h.activeJobID = jobID

	return job
}

// FinishJob closes the active job with its final statistics.
func (h *JobHistory) FinishJob(status string, stats process.Stats) *ProcessedJob {
	h.mu.RLock()
	jobID := h.activeJobID
	h.mu.RUnlock()

	if jobID == "" {
		return nil
	}
	return h.FinishJobByID(jobID, status, stats)
}

// FinishJobByID closes a specific job. Batch runs process several files
// at once, so the single active slot is not enough there.
func (h *JobHistory) FinishJobByID(jobID, status string, stats process.Stats) *ProcessedJob {
	h.mu.Lock()
	defer h.mu.Unlock()

	job, ok := h.jobs[jobID]
	if !ok {
		return nil
	}

	now := float64(time.Now().Unix())
	job.EndTime = &now
	job.Status = status
	job.Duration = now - job.StartTime

	job.LinesRead = stats.LinesRead
	job.LinesWritten = stats.LinesWritten
	job.Retractions = stats.Retractions
	job.WipesInserted = stats.WipesInserted
	job.WipesSkipped = stats.WipesSkipped
	job.PathReused = stats.PathReused

	if h.activeJobID == jobID {
		h.activeJobID = ""
	}
	return job
}

// GetJob returns a job by ID.
func (h *JobHistory) GetJob(jobID string) (*ProcessedJob, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	job, ok := h.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return job, nil
}

// Count returns the number of recorded jobs.
func (h *JobHistory) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.jobs)
}

// ListJobs returns jobs with optional filtering and pagination.
func (h *JobHistory) ListJobs(limit, start int, since, before float64, order string) []*ProcessedJob {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var matches []*ProcessedJob
	for _, jobID := range h.jobOrder {
		job := h.jobs[jobID]
		if job == nil {
			continue
		}
		if since > 0 && job.StartTime < since {
			continue
		}
		if before > 0 && job.StartTime > before {
			continue
		}
		matches = append(matches, job)
	}

	if order == "asc" {
		sort.Slice(matches, func(i, j int) bool {
			return matches[i].StartTime < matches[j].StartTime
		})
	}
	// Default is desc, most recent first, which jobOrder already is

	if start > 0 && start < len(matches) {
		matches = matches[start:]
	} else if start >= len(matches) {
		matches = nil
	}

	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}

	return matches
}

// GetTotals returns aggregated job statistics.
func (h *JobHistory) GetTotals() *JobTotals {
	h.mu.RLock()
	defer h.mu.RUnlock()

	totals := &JobTotals{}
	for _, job := range h.jobs {
		totals.TotalJobs++
		totals.TotalTime += job.Duration
		totals.TotalLines += job.LinesRead
		totals.TotalWipes += job.WipesInserted
		totals.TotalPathReused += job.PathReused

		if job.Duration > totals.LongestJob {
			totals.LongestJob = job.Duration
		}
	}
	return totals
}

// DeleteJob deletes a job from history.
func (h *JobHistory) DeleteJob(jobID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.jobs[jobID]; !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	delete(h.jobs, jobID)

	for i, id := range h.jobOrder {
		if id == jobID {
			h.jobOrder = append(h.jobOrder[:i], h.jobOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ResetTotals clears all job history.
func (h *JobHistory) ResetTotals() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.jobs = make(map[string]*ProcessedJob)
	h.jobOrder = make([]string, 0)
	h.activeJobID = ""
}

// RegisterEndpoints registers the history HTTP endpoints.
func (h *JobHistory) RegisterEndpoints(mux *http.ServeMux) {
	mux.HandleFunc("/server/history/list", h.handleList)
	mux.HandleFunc("/server/history/status", h.handleStatus)
	mux.HandleFunc("/server/history/totals", h.handleTotals)
	mux.HandleFunc("/server/history/job", h.handleJob)
	mux.HandleFunc("/server/history/reset_totals", h.handleResetTotals)
}

func (h *JobHistory) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if l := q.Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}
	start := 0
	if s := q.Get("start"); s != "" {
		fmt.Sscanf(s, "%d", &start)
	}
	var since, before float64
	if s := q.Get("since"); s != "" {
		fmt.Sscanf(s, "%f", &since)
	}
	if b := q.Get("before"); b != "" {
		fmt.Sscanf(b, "%f", &before)
	}
	order := q.Get("order")
	if order == "" {
		order = "desc"
	}

	jobs := h.ListJobs(limit, start, since, before, order)

	writeJSON(w, map[string]any{
		"result": map[string]any{
			"count": h.Count(),
			"jobs":  jobs,
		},
	})
}

func (h *JobHistory) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	var job *ProcessedJob
	if h.activeJobID != "" {
		job = h.jobs[h.activeJobID]
	}
	h.mu.RUnlock()

	result := map[string]any{}
	if job != nil {
		result["job"] = job
	}
	writeJSON(w, map[string]any{"result": result})
}

func (h *JobHistory) handleTotals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"result": map[string]any{
			"job_totals": h.GetTotals(),
		},
	})
}

func (h *JobHistory) handleJob(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeJSONError(w, fmt.Errorf("missing uid parameter"), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, err := h.GetJob(uid)
		if err != nil {
			writeJSONError(w, err, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"result": map[string]any{"job": job}})

	case http.MethodDelete:
		if err := h.DeleteJob(uid); err != nil {
			writeJSONError(w, err, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"result": map[string]any{
				"deleted_jobs": []string{uid},
			},
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *JobHistory) handleResetTotals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.ResetTotals()

	writeJSON(w, map[string]any{
		"result": map[string]any{
			"last_totals": h.GetTotals(),
		},
	})
}
