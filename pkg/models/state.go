package models

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// InitialStep is the current_step value before any stage has been attempted.
const InitialStep = "initialized"

// SourceDocument is the output of text extraction: the document body and whatever the extractor learned about it.
type SourceDocument struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (d *SourceDocument) clone() *SourceDocument {
	if d == nil {
		return nil
	}

	return &SourceDocument{Content: d.Content, Metadata: maps.Clone(d.Metadata)}
}

// MetadataString returns a metadata value formatted as text, or def when absent.
func (d *SourceDocument) MetadataString(key, def string) string {
	if d == nil || d.Metadata == nil {
		return def
	}

	v, ok := d.Metadata[key]
	if !ok || v == nil {
		return def
	}

	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return def
		}

		return string(b)
	}
}

// Requirements are free-form generation preferences passed through to stages unmodified.
type Requirements map[string]any

// Int reads a numeric requirement. JSON numbers, Go integers and numeric strings are accepted.
func (r Requirements) Int(key string) (int, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}

	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case float32:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}

		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}

		return n, true
	default:
		return 0, false
	}
}

// String reads a text requirement, returning def when absent or empty.
func (r Requirements) String(key, def string) string {
	if v, ok := r[key].(string); ok && v != "" {
		return v
	}

	return def
}

// Bool reads a boolean requirement, returning def when absent.
func (r Requirements) Bool(key string, def bool) bool {
	if v, ok := r[key].(bool); ok {
		return v
	}

	return def
}

// ManualContent is the text a user typed in place of a source document.
func (r Requirements) ManualContent() string {
	return strings.TrimSpace(r.String("manual_content", ""))
}

// Clone returns a shallow copy.
func (r Requirements) Clone() Requirements {
	if r == nil {
		return Requirements{}
	}

	return maps.Clone(r)
}

// WorkflowState is the single record threaded through every stage of one run.
// Only the executor mutates it; stages see it through a StateView.
type WorkflowState struct {
	PresentationID   string          `json:"presentation_id"`
	UserID           string          `json:"user_id"`
	SessionID        string          `json:"session_id"`
	SourceDocument   *SourceDocument `json:"source_document,omitempty"`
	UserRequirements Requirements    `json:"user_requirements"`
	Outputs          map[Slot]any    `json:"outputs"`
	CurrentStep      string          `json:"current_step"`
	CompletedSteps   []StageName     `json:"completed_steps"`
	AgentResults     []StageResult   `json:"agent_results"`
	Errors           []string        `json:"errors"`
	StartTime        time.Time       `json:"start_time"`
	Metadata         map[string]any  `json:"metadata"`
	Complete         bool            `json:"is_complete"`
}

// NewWorkflowState builds the initial state with every output slot unset.
func NewWorkflowState(presentationID, userID, sessionID string, doc *SourceDocument, req Requirements, metadata map[string]any) *WorkflowState {
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &WorkflowState{
		PresentationID:   presentationID,
		UserID:           userID,
		SessionID:        sessionID,
		SourceDocument:   doc.clone(),
		UserRequirements: req.Clone(),
		Outputs:          map[Slot]any{},
		CurrentStep:      InitialStep,
		CompletedSteps:   []StageName{},
		AgentResults:     []StageResult{},
		Errors:           []string{},
		StartTime:        time.Now().UTC(),
		Metadata:         metadata,
	}
}

// Attempts counts how many times stage appears in completed_steps.
func (s *WorkflowState) Attempts(stage StageName) int {
	count := 0

	for _, step := range s.CompletedSteps {
		if step == stage {
			count++
		}
	}

	return count
}

// LastResult returns the most recent result recorded for stage.
func (s *WorkflowState) LastResult(stage StageName) (StageResult, bool) {
	for i := len(s.AgentResults) - 1; i >= 0; i-- {
		if s.AgentResults[i].StageName == stage {
			return s.AgentResults[i], true
		}
	}

	return StageResult{}, false
}

// MergeMetadata adds entries to the run metadata.
func (s *WorkflowState) MergeMetadata(entries map[string]any) {
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}

	maps.Copy(s.Metadata, entries)
}

// Clone copies the state so the copy can be stored or read while the run continues.
// Output values are shared; they are never mutated after the executor writes them.
func (s *WorkflowState) Clone() *WorkflowState {
	c := *s
	c.SourceDocument = s.SourceDocument.clone()
	c.UserRequirements = s.UserRequirements.Clone()
	c.Outputs = maps.Clone(s.Outputs)
	c.CompletedSteps = slices.Clone(s.CompletedSteps)
	c.AgentResults = slices.Clone(s.AgentResults)
	c.Errors = slices.Clone(s.Errors)
	c.Metadata = maps.Clone(s.Metadata)

	return &c
}

// View returns a detached read-only view for a stage.
func (s *WorkflowState) View() StateView {
	return StateView{state: s.Clone()}
}

// Snapshot summarizes progress for status lookups.
func (s *WorkflowState) Snapshot(totalSteps int) StatusSnapshot {
	return StatusSnapshot{
		SessionID:      s.SessionID,
		PresentationID: s.PresentationID,
		CurrentStep:    s.CurrentStep,
		CompletedSteps: slices.Clone(s.CompletedSteps),
		TotalSteps:     totalSteps,
		Errors:         slices.Clone(s.Errors),
		IsComplete:     s.Complete,
		Metadata:       maps.Clone(s.Metadata),
	}
}

// StatusSnapshot is what a status lookup reports for a session.
type StatusSnapshot struct {
	SessionID       string         `json:"session_id"`
	PresentationID  string         `json:"presentation_id"`
	CurrentStep     string         `json:"current_step"`
	CompletedSteps  []StageName    `json:"completed_steps"`
	TotalSteps      int            `json:"total_steps"`
	Errors          []string       `json:"errors"`
	IsComplete      bool           `json:"is_complete"`
	CancelRequested bool           `json:"cancel_requested"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// StateView is the read-only state a stage receives.
type StateView struct {
	state *WorkflowState
}

func (v StateView) PresentationID() string { return v.state.PresentationID }
func (v StateView) UserID() string         { return v.state.UserID }
func (v StateView) SessionID() string      { return v.state.SessionID }

// SourceDocument returns a copy of the input document, or nil.
func (v StateView) SourceDocument() *SourceDocument {
	return v.state.SourceDocument.clone()
}

// Requirements returns a copy of the user requirements.
func (v StateView) Requirements() Requirements {
	return v.state.UserRequirements.Clone()
}

// CompletedSteps returns the attempted stages in order.
func (v StateView) CompletedSteps() []StageName {
	return slices.Clone(v.state.CompletedSteps)
}

// Errors returns the errors accumulated so far.
func (v StateView) Errors() []string {
	return slices.Clone(v.state.Errors)
}

// Metadata returns a copy of the run metadata.
func (v StateView) Metadata() map[string]any {
	return maps.Clone(v.state.Metadata)
}

// Output returns the value of slot when it holds usable data: it is set and the latest attempt of
// its owning stage succeeded.
func (v StateView) Output(slot Slot) (any, bool) {
	value, ok := v.state.Outputs[slot]
	if !ok || value == nil {
		return nil, false
	}

	owner, ok := slotOwner(slot)
	if !ok {
		return nil, false
	}

	last, ok := v.state.LastResult(owner)
	if !ok || !last.Success {
		return nil, false
	}

	return value, true
}

// Map returns a usable slot holding a mapping.
func (v StateView) Map(slot Slot) (map[string]any, bool) {
	value, ok := v.Output(slot)
	if !ok {
		return nil, false
	}

	m, ok := value.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}

	return m, true
}

// Slides returns the usable slide list.
func (v StateView) Slides() ([]map[string]any, bool) {
	value, ok := v.Output(SlotSlideContent)
	if !ok {
		return nil, false
	}

	slides, ok := AsMapSlice(value)
	if !ok || len(slides) == 0 {
		return nil, false
	}

	return slides, true
}

func slotOwner(slot Slot) (StageName, bool) {
	for stage, s := range stageSlots {
		if s == slot {
			return stage, true
		}
	}

	return "", false
}

// AsMapSlice converts a list of mappings held as []map[string]any or []any (after a JSON round trip).
func AsMapSlice(value any) ([]map[string]any, bool) {
	switch t := value.(type) {
	case []map[string]any:
		return t, true
	case []any:
		out := make([]map[string]any, 0, len(t))

		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}

			out = append(out, m)
		}

		return out, true
	default:
		return nil, false
	}
}
