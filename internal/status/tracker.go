package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Host-side lifecycle phases. In-container writers additionally report
// activity sub-phases (exploring, implementing, building, testing) inside
// the running band; the tracker stores whatever phase string the writer
// sent and only polices progress.
const (
	PhaseInit       = "initializing"
	PhasePreparing  = "preparing"
	PhaseStarting   = "starting"
	PhaseRunning    = "running"
	PhaseCommitting = "committing"
	PhasePushing    = "pushing"
	PhaseComplete   = "complete"
	PhaseError      = "error"
)

// AgentStatus is the persisted record for one {project, agent} run.
type AgentStatus struct {
	AgentID      string    `json:"agent_id"`
	Project      string    `json:"project"`
	Phase        string    `json:"phase"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message,omitempty"`
	Activity     string    `json:"activity,omitempty"`
	Branch       string    `json:"branch,omitempty"`
	SandboxMode  string    `json:"sandbox_mode,omitempty"`
	WorktreePath string    `json:"worktree_path,omitempty"`
	PRURL        string    `json:"pr_url,omitempty"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tracker reads and writes per-agent status files under one directory.
// Writes are atomic (write-temp-then-rename) so readers always see a whole
// record; no cross-process locking exists because exactly one launcher owns
// a {project, agent} key at a time.
type Tracker struct {
	dir string
}

// NewTracker creates a tracker rooted at dir, creating it if needed.
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating status dir: %w", err)
	}
	return &Tracker{dir: dir}, nil
}

// Dir returns the status directory.
func (t *Tracker) Dir() string { return t.dir }

// FilePath returns the status file for one {project, agent} key.
func (t *Tracker) FilePath(project, agentID string) string {
	return filepath.Join(t.dir, fmt.Sprintf("kapsis-%s-%s.json", project, agentID))
}

// Handle is the host-side writer for one run's status record.
type Handle struct {
	tracker *Tracker
	cur     AgentStatus
}

// Init creates the status record in the initializing phase.
func (t *Tracker) Init(agentID, project string) (*Handle, error) {
	now := time.Now().UTC()
	h := &Handle{
		tracker: t,
		cur: AgentStatus{
			AgentID:   agentID,
			Project:   project,
			Phase:     PhaseInit,
			Progress:  0,
			Message:   "initializing",
			StartedAt: now,
			UpdatedAt: now,
		},
	}
	if err := h.write(); err != nil {
		return nil, err
	}
	return h, nil
}

// Update moves the record to a new phase and progress. Progress is clamped
// to 0-100 and never moves backwards within a run: a regressing writer is
// raised to the high-water mark rather than rejected, because host and
// container writers race benignly on wall-clock ordering.
func (h *Handle) Update(phase string, progress int, message string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress < h.cur.Progress {
		progress = h.cur.Progress
	}
	h.cur.Phase = phase
	h.cur.Progress = progress
	if message != "" {
		h.cur.Message = message
	}
	h.cur.UpdatedAt = time.Now().UTC()
	return h.write()
}

// SetDetails records run metadata that phases do not change.
func (h *Handle) SetDetails(branch, sandboxMode, worktreePath string) error {
	h.cur.Branch = branch
	h.cur.SandboxMode = sandboxMode
	h.cur.WorktreePath = worktreePath
	h.cur.UpdatedAt = time.Now().UTC()
	return h.write()
}

// Complete finalizes the record: phase complete at 100 on success (with
// the given message, defaulting to "complete"), phase error carrying the
// exit code and reason otherwise.
func (h *Handle) Complete(exitCode int, errMsg, message string) error {
	h.cur.ExitCode = &exitCode
	h.cur.UpdatedAt = time.Now().UTC()
	if errMsg != "" {
		h.cur.Phase = PhaseError
		h.cur.Error = errMsg
	} else {
		h.cur.Phase = PhaseComplete
		h.cur.Progress = 100
		if message == "" {
			message = "complete"
		}
		h.cur.Message = message
	}
	return h.write()
}

// Fail marks the record as errored without an exit code from the container.
func (h *Handle) Fail(errMsg string) error {
	h.cur.Phase = PhaseError
	h.cur.Error = errMsg
	h.cur.UpdatedAt = time.Now().UTC()
	return h.write()
}

// Current returns a copy of the record as last written by this handle.
func (h *Handle) Current() AgentStatus { return h.cur }

func (h *Handle) write() error {
	path := h.tracker.FilePath(h.cur.Project, h.cur.AgentID)
	data, err := json.MarshalIndent(h.cur, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publishing status: %w", err)
	}
	return nil
}

// Read loads the status record for one {project, agent} key.
func (t *Tracker) Read(project, agentID string) (*AgentStatus, error) {
	data, err := os.ReadFile(t.FilePath(project, agentID))
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	var s AgentStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing status: %w", err)
	}
	return &s, nil
}

// List returns every status record in the directory, oldest first.
func (t *Tracker) List() ([]*AgentStatus, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, fmt.Errorf("reading status dir: %w", err)
	}
	var out []*AgentStatus
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "kapsis-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.dir, name))
		if err != nil {
			continue
		}
		var s AgentStatus
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Remove deletes the status record for one {project, agent} key.
func (t *Tracker) Remove(project, agentID string) error {
	err := os.Remove(t.FilePath(project, agentID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing status: %w", err)
	}
	return nil
}
