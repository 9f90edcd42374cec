// Package assembler turns generated slide content into presentation files.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrEmptyDeck         = errors.New("deck has no slides")
)

// Formats accepted by the default assembler.
const (
	FormatPPTX = "pptx"
	FormatPDF  = "pdf"
	FormatHTML = "html"
	FormatPNG  = "png"
	FormatJSON = "json"
)

// Assembler renders a deck in one format.
type Assembler interface {
	Assemble(ctx context.Context, format string, deck Deck) ([]byte, error)
}

// Slide is one rendered slide.
type Slide struct {
	Number       int      `json:"slide_number"`
	Type         string   `json:"type"`
	Title        string   `json:"title"`
	Content      []string `json:"content"`
	Layout       string   `json:"layout,omitempty"`
	SpeakerNotes string   `json:"speaker_notes,omitempty"`
}

// Deck is the slide list plus the presentation attributes needed to render it.
type Deck struct {
	PresentationID string  `json:"presentation_id"`
	Title          string  `json:"title"`
	Template       string  `json:"template,omitempty"`
	AccentColor    string  `json:"accent_color,omitempty"`
	Slides         []Slide `json:"slides"`
}

// DeckFromSlides converts the slide mappings produced by content generation. Mappings may come
// straight from a stage or from a JSON round trip.
func DeckFromSlides(presentationID, title, template string, slides []map[string]any) Deck {
	deck := Deck{
		PresentationID: presentationID,
		Title:          title,
		Template:       template,
		Slides:         make([]Slide, 0, len(slides)),
	}

	for i, raw := range slides {
		slide := Slide{
			Number:       intValue(raw["slide_number"], i+1),
			Type:         stringValue(raw["type"], "content"),
			Title:        stringValue(raw["title"], fmt.Sprintf("Slide %d", i+1)),
			Content:      stringList(raw["content"]),
			Layout:       stringValue(raw["layout"], ""),
			SpeakerNotes: stringValue(raw["speaker_notes"], ""),
		}
		deck.Slides = append(deck.Slides, slide)

		if deck.AccentColor == "" {
			if branding, ok := raw["branding_elements"].(map[string]any); ok {
				deck.AccentColor = stringValue(branding["accent_color"], "")
			}
		}
	}

	return deck
}

// Multi dispatches to an assembler per format.
type Multi struct {
	assemblers map[string]Assembler
}

// NewMulti builds a dispatcher from a format table.
func NewMulti(assemblers map[string]Assembler) *Multi {
	return &Multi{assemblers: maps.Clone(assemblers)}
}

// Default renders html natively and every other format as a JSON manifest.
func Default() *Multi {
	return NewMulti(map[string]Assembler{
		FormatHTML: HTML{},
		FormatJSON: Manifest{},
		FormatPPTX: Manifest{},
		FormatPDF:  Manifest{},
		FormatPNG:  Manifest{},
	})
}

func (m *Multi) Assemble(ctx context.Context, format string, deck Deck) ([]byte, error) {
	assembler, ok := m.assemblers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if len(deck.Slides) == 0 {
		return nil, ErrEmptyDeck
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return assembler.Assemble(ctx, format, deck)
}

// Supports reports whether format has an assembler.
func (m *Multi) Supports(format string) bool {
	_, ok := m.assemblers[format]

	return ok
}

// Formats lists the supported formats in sorted order.
func (m *Multi) Formats() []string {
	return slices.Sorted(maps.Keys(m.assemblers))
}

// ContentType is the media type of the bytes produced for format.
func ContentType(format string) string {
	switch format {
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "application/json"
	}
}

// FileName is the artifact name for a deck exported as format.
func FileName(presentationID, format string) string {
	switch format {
	case FormatHTML, FormatJSON:
		return presentationID + "." + format
	case FormatPNG:
		return presentationID + "_slides.png.json"
	default:
		return presentationID + "." + format + ".json"
	}
}

func stringValue(v any, def string) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return def
	}

	return s
}

func intValue(v any, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}

	return def
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]string, 0, len(t))

		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}

		return strings.Split(t, "\n")
	default:
		return nil
	}
}
