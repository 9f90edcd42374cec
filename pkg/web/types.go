// Package web provides the HTTP handlers and middleware of the generation API.
package web

import (
	"time"

	"github.com/dukex/deckflow/pkg/models"
)

// StatusResponse is a status snapshot with the share of stages attempted.
type StatusResponse struct {
	models.StatusSnapshot

	Progress int `json:"progress"`
}

// CancelResponse acknowledges a cancel request.
type CancelResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ArtifactsResponse lists the exported files of a generation.
type ArtifactsResponse struct {
	ID        string             `json:"id"`
	Artifacts []*models.Artifact `json:"artifacts"`
}

// ExtractResponse is the source document produced from an upload.
type ExtractResponse struct {
	Document    *models.SourceDocument `json:"source_document"`
	ExtractedAt time.Time              `json:"extracted_at"`
}

func progress(snapshot models.StatusSnapshot) int {
	if snapshot.IsComplete {
		return 100
	}

	if snapshot.TotalSteps == 0 {
		return 0
	}

	seen := make(map[models.StageName]struct{}, len(snapshot.CompletedSteps))
	for _, step := range snapshot.CompletedSteps {
		seen[step] = struct{}{}
	}

	return min(len(seen)*100/snapshot.TotalSteps, 99)
}
