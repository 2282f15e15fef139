package harvest

import (
	"slices"
	"time"
)

// PhaseReport summarizes one finished phase.
type PhaseReport struct {
	Phase      Phase         `json:"phase"`
	Items      int           `json:"items"`
	Failed     int           `json:"failed"`
	Warnings   int           `json:"warnings"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`

	err error
}

// Report summarizes a harvest run.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
	Running    bool          `json:"running"`
	Phases     []PhaseReport `json:"phases"`
	Error      string        `json:"error,omitempty"`
}

// Items totals the work items of every phase.
func (r Report) Items() int {
	n := 0
	for _, p := range r.Phases {
		n += p.Items
	}
	return n
}

// Failed totals the failures of every phase.
func (r Report) Failed() int {
	n := 0
	for _, p := range r.Phases {
		n += p.Failed
	}
	return n
}

// Phase returns the report of one phase, if it ran.
func (r Report) Phase(phase Phase) (PhaseReport, bool) {
	for _, p := range r.Phases {
		if p.Phase == phase {
			return p, true
		}
	}
	return PhaseReport{}, false
}

// Status returns a snapshot of the current or last run.
func (h *Harvester) Status() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := h.status
	out.Phases = slices.Clone(h.status.Phases)
	return out
}

func (h *Harvester) setStatus(r Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = r
}

func (h *Harvester) appendPhase(p PhaseReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.Phases = append(h.status.Phases, p)
}

func (h *Harvester) finish(err error) Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.Running = false
	h.status.FinishedAt = h.deps.Clock.Now()
	if err != nil {
		h.status.Error = err.Error()
	}
	out := h.status
	out.Phases = slices.Clone(h.status.Phases)
	return out
}
