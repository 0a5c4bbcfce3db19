// Pipeline adapter wiring the preprocessor into the monitor.
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package monitor

import (
	"sort"
	"sync"

	"github.com/zipper177/Octolapse/pkg/process"
)

// ProcessorSource is the part of the pipeline the adapter reads.
// *process.Processor implements it.
type ProcessorSource interface {
	Stats() process.Stats
	Progress() process.Progress
	WiperState() process.WiperState
}

// StatusProvider returns the status of one object. A nil attrs slice
// returns all attributes.
type StatusProvider func(attrs []string) map[string]any

// ProcessorAdapter adapts status providers to ProcessorInterface.
type ProcessorAdapter struct {
	mu sync.RWMutex

	statusProviders map[string]StatusProvider
	stateGetter     func() string
}

// NewProcessorAdapter creates an empty adapter. Providers are added
// with RegisterStatusProvider.
func NewProcessorAdapter() *ProcessorAdapter {
	return &ProcessorAdapter{
		statusProviders: make(map[string]StatusProvider),
	}
}

// NewPipelineAdapter creates an adapter publishing the pipeline's
// progress, stats and wiper objects.
func NewPipelineAdapter(src ProcessorSource) *ProcessorAdapter {
	pa := NewProcessorAdapter()

	pa.RegisterStatusProvider("progress", func(attrs []string) map[string]any {
		pr := src.Progress()
		return FilterStatus(map[string]any{
			"bytes_read":  pr.BytesRead,
			"bytes_total": pr.BytesTotal,
			"percent":     pr.Percent(),
		}, attrs)
	})

	pa.RegisterStatusProvider("stats", func(attrs []string) map[string]any {
		st := src.Stats()
		return FilterStatus(map[string]any{
			"lines_read":     st.LinesRead,
			"lines_written":  st.LinesWritten,
			"commands":       st.Commands,
			"retractions":    st.Retractions,
			"wipes_inserted": st.WipesInserted,
			"wipes_skipped":  st.WipesSkipped,
			"steps_emitted":  st.StepsEmitted,
			"path_reused_mm": st.PathReused,
		}, attrs)
	})

	pa.RegisterStatusProvider("wiper", func(attrs []string) map[string]any {
		ws := src.WiperState()
		return FilterStatus(map[string]any{
			"enabled":             ws.Enabled,
			"full_wipe":           ws.FullWipe,
			"history_positions":   ws.HistoryDepth,
			"history_distance_mm": ws.HistoryDistance,
			"retraction_length":   ws.Settings.RetractionLength,
			"retraction_feedrate": ws.Settings.RetractionFeedrate,
			"wipe_feedrate":       ws.Settings.WipeFeedrate,
			"travel_speed":        ws.Settings.XYTravelSpeed,
		}, attrs)
	})

	return pa
}

// RegisterStatusProvider registers a status provider for an object.
func (pa *ProcessorAdapter) RegisterStatusProvider(name string, provider StatusProvider) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	pa.statusProviders[name] = provider
}

// UnregisterStatusProvider removes a status provider.
func (pa *ProcessorAdapter) UnregisterStatusProvider(name string) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	delete(pa.statusProviders, name)
}

// SetStateGetter sets the pipeline state getter. The driver owning the
// run loop knows the lifecycle, so it supplies the state.
func (pa *ProcessorAdapter) SetStateGetter(getter func() string) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	pa.stateGetter = getter
}

// GetObjectsList implements ProcessorInterface.
func (pa *ProcessorAdapter) GetObjectsList() []string {
	pa.mu.RLock()
	defer pa.mu.RUnlock()

	objects := make([]string, 0, len(pa.statusProviders))
	for name := range pa.statusProviders {
		objects = append(objects, name)
	}
	sort.Strings(objects)
	return objects
}

// GetObjectStatus implements ProcessorInterface.
func (pa *ProcessorAdapter) GetObjectStatus(name string, attrs []string) map[string]any {
	pa.mu.RLock()
	provider, ok := pa.statusProviders[name]
	pa.mu.RUnlock()

	if !ok {
		return nil
	}
	return provider(attrs)
}

// GetState implements ProcessorInterface.
func (pa *ProcessorAdapter) GetState() string {
	pa.mu.RLock()
	getter := pa.stateGetter
	pa.mu.RUnlock()

	if getter != nil {
		return getter()
	}
	return "idle"
}

// FilterStatus filters a status map to the requested attributes. An
// empty attrs slice returns the map unchanged.
func FilterStatus(status map[string]any, attrs []string) map[string]any {
	if len(attrs) == 0 {
		return status
	}

	filtered := make(map[string]any)
	for _, attr := range attrs {
		if val, ok := status[attr]; ok {
			filtered[attr] = val
		}
	}
	return filtered
}
