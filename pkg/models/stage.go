// Package models defines the shared records threaded through a presentation generation run.
package models

import "time"

// StageName identifies one unit of pipeline work.
type StageName string

const (
	StagePlan         StageName = "plan"
	StageResearch     StageName = "research"
	StageContent      StageName = "content"
	StageArchitecture StageName = "architecture"
	StageCompliance   StageName = "compliance"
	StageExport       StageName = "export"
)

// Slot is the name of a per-stage output field in WorkflowState.
type Slot string

const (
	SlotPresentationPlan      Slot = "presentation_plan"
	SlotResearchData          Slot = "research_data"
	SlotSlideContent          Slot = "slide_content"
	SlotArchitectureDecisions Slot = "architecture_decisions"
	SlotComplianceReport      Slot = "compliance_report"
	SlotExportResults         Slot = "export_results"
)

var stageSlots = map[StageName]Slot{
	StagePlan:         SlotPresentationPlan,
	StageResearch:     SlotResearchData,
	StageContent:      SlotSlideContent,
	StageArchitecture: SlotArchitectureDecisions,
	StageCompliance:   SlotComplianceReport,
	StageExport:       SlotExportResults,
}

// Pipeline returns the canonical stage order.
func Pipeline() []StageName {
	return []StageName{
		StagePlan,
		StageResearch,
		StageContent,
		StageArchitecture,
		StageCompliance,
		StageExport,
	}
}

// Slot returns the output slot owned by the stage.
func (s StageName) Slot() (Slot, bool) {
	slot, ok := stageSlots[s]

	return slot, ok
}

func (s StageName) String() string {
	return string(s)
}

// ErrorKind classifies why a stage attempt failed.
type ErrorKind string

const (
	// KindStageFailed is a failure the stage itself detected and reported.
	KindStageFailed ErrorKind = "stage_failed"
	// KindStageFault is an unexpected fault contained by the executor.
	KindStageFault ErrorKind = "stage_fault"
	// KindTimeout means the stage did not return before its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindInvalidInput is a validation failure that retrying cannot fix.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindCancelled marks a run stopped by a cancel request.
	KindCancelled ErrorKind = "cancelled"
)

// Retryable reports whether another attempt of the same stage could succeed.
func (k ErrorKind) Retryable() bool {
	return k != KindInvalidInput && k != KindCancelled
}

// StageResult is the outcome of one stage attempt.
type StageResult struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data"`
	Messages      []string       `json:"messages"`
	Errors        []string       `json:"errors"`
	StageName     StageName      `json:"agent_name"`
	ExecutionTime float64        `json:"execution_time"`
	ErrorKind     ErrorKind      `json:"error_kind,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Succeeded builds a successful result carrying the stage payload.
func Succeeded(stage StageName, data map[string]any, messages ...string) StageResult {
	if data == nil {
		data = map[string]any{}
	}

	return StageResult{
		Success:   true,
		Data:      data,
		Messages:  messages,
		Errors:    []string{},
		StageName: stage,
		Metadata:  map[string]any{},
	}
}

// Failed builds a failed result from an error, classifying it with KindOf.
func Failed(stage StageName, err error) StageResult {
	kind := KindOf(err)

	metadata := map[string]any{"error_type": string(kind)}
	if code := CodeOf(err); code != "" {
		metadata["error_code"] = code
	}

	return StageResult{
		Success:   false,
		Data:      map[string]any{},
		Messages:  []string{},
		Errors:    []string{err.Error()},
		StageName: stage,
		ErrorKind: kind,
		Metadata:  metadata,
	}
}

// StageContext is created fresh by the executor for every attempt.
type StageContext struct {
	Stage          StageName      `json:"stage"`
	StageID        string         `json:"stage_id"`
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	PresentationID string         `json:"presentation_id"`
	Attempt        int            `json:"attempt"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata"`
}

// StageInfo describes a registered stage for administrative listings.
type StageInfo struct {
	Name        StageName `json:"name"`
	Description string    `json:"description"`
	Slot        Slot      `json:"slot"`
	Position    int       `json:"position"`
	RetryPolicy string    `json:"retry_policy,omitempty"`
}
