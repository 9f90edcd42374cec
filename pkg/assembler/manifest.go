package assembler

import (
	"context"
	"encoding/json"
	"fmt"
)

// Manifest renders the deck as a JSON document tagged with the requested format. It stands in
// for binary formats that need an external renderer.
type Manifest struct{}

type manifest struct {
	Format     string `json:"format"`
	SlideCount int    `json:"slide_count"`
	Deck
}

func (Manifest) Assemble(_ context.Context, format string, deck Deck) ([]byte, error) {
	data, err := json.MarshalIndent(manifest{
		Format:     format,
		SlideCount: len(deck.Slides),
		Deck:       deck,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s manifest: %w", format, err)
	}

	return data, nil
}
