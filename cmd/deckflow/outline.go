package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dukex/deckflow/pkg/assembler"
	"github.com/dukex/deckflow/pkg/config"
	"github.com/dukex/deckflow/pkg/document"
	"github.com/dukex/deckflow/pkg/llm"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

// ErrNoOutline is returned when the model answer holds no usable slide list.
var ErrNoOutline = errors.New("answer contains no slide outline")

const (
	outlineSystemPrompt = `You turn documents into slide outlines. Reply with a JSON array only. ` +
		`Each element has "title", "bullets" (three to five short strings) and "image_prompt" ` +
		`(one sentence describing an illustration for the slide).`

	maxOutlineTitle   = 60
	maxOutlineBullets = 4
	maxOutlineInput   = 12000
)

// OutlineSlide is one slide of a single-shot outline.
type OutlineSlide struct {
	Title       string   `json:"title"`
	Bullets     []string `json:"bullets"`
	ImagePrompt string   `json:"image_prompt"`
}

func OutlineCommand() *cli.Command {
	return &cli.Command{
		Name:      "outline",
		Usage:     "Draft a slide outline with a single model call and render it as HTML",
		ArgsUsage: "<document>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "HTML file to write (stdout when empty)",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Presentation title (defaults to the file name)",
			},
			&cli.IntFlag{
				Name:  "slides",
				Usage: "Number of slides (defaults to default_slides)",
			},
		}, llmFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() != 1 {
				return cli.Exit("outline expects exactly one document path", 2)
			}

			settings, err := config.Load(command.Root().String("config-file"))
			if err != nil {
				return err
			}

			generator, err := newGenerator(ctx, command, settings)
			if err != nil {
				return err
			}

			input := command.Args().First()

			slides := command.Int("slides")
			if slides <= 0 {
				slides = settings.DefaultSlides
			}

			slides = min(slides, settings.MaxSlides)

			title := command.String("title")
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
			}

			var out io.Writer = command.Root().Writer

			if path := command.String("output"); path != "" {
				f, err := os.Create(path) // #nosec G304 -- user supplied path
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer f.Close()

				out = f
			}

			return renderOutline(ctx, generator, input, title, slides, out)
		},
	}
}

func renderOutline(ctx context.Context, generator llm.Generator, input, title string, slides int, w io.Writer) error {
	data, err := os.ReadFile(input) // #nosec G304 -- user supplied path
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	doc, err := document.Extract(data, filepath.Base(input))
	if err != nil {
		return err
	}

	outline, err := draftOutline(ctx, generator, doc.Content, slides)
	if err != nil {
		return err
	}

	html, err := assembler.Default().Assemble(ctx, assembler.FormatHTML, outlineDeck(title, outline))
	if err != nil {
		return err
	}

	_, err = w.Write(html)

	return err
}

// draftOutline asks the model for the whole outline at once. Without a model the outline is cut
// from the document paragraphs.
func draftOutline(ctx context.Context, generator llm.Generator, text string, slides int) ([]OutlineSlide, error) {
	prompt := fmt.Sprintf("Create an outline of %d slides for this document:\n\n%s", slides, truncate(text, maxOutlineInput))

	answer, err := generator.Generate(ctx, outlineSystemPrompt, prompt)
	if errors.Is(err, llm.ErrOffline) {
		return paragraphOutline(text, slides), nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to draft outline: %w", err)
	}

	outline, err := parseOutline(answer)
	if err != nil {
		return nil, err
	}

	if len(outline) > slides {
		outline = outline[:slides]
	}

	return outline, nil
}

func parseOutline(answer string) ([]OutlineSlide, error) {
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")

	if start < 0 || end < start {
		return nil, ErrNoOutline
	}

	var raw []OutlineSlide
	if err := json.Unmarshal([]byte(answer[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoOutline, err)
	}

	outline := make([]OutlineSlide, 0, len(raw))

	for _, slide := range raw {
		slide.Title = strings.TrimSpace(slide.Title)
		if slide.Title == "" {
			continue
		}

		outline = append(outline, slide)
	}

	if len(outline) == 0 {
		return nil, ErrNoOutline
	}

	return outline, nil
}

func paragraphOutline(text string, slides int) []OutlineSlide {
	var outline []OutlineSlide

	for _, paragraph := range strings.Split(text, "\n\n") {
		if len(outline) == slides {
			break
		}

		sentences := splitSentences(paragraph)
		if len(sentences) == 0 {
			continue
		}

		slide := OutlineSlide{
			Title:       truncate(strings.TrimLeft(sentences[0], "# "), maxOutlineTitle),
			ImagePrompt: "An illustration of " + strings.ToLower(strings.TrimRight(sentences[0], ".")),
		}

		bullets := sentences[1:]
		if len(bullets) == 0 {
			bullets = sentences
		}

		slide.Bullets = bullets[:min(len(bullets), maxOutlineBullets)]
		outline = append(outline, slide)
	}

	return outline
}

func splitSentences(paragraph string) []string {
	var sentences []string

	for _, line := range strings.Split(paragraph, "\n") {
		for _, sentence := range strings.SplitAfter(line, ". ") {
			if sentence = strings.TrimSpace(sentence); sentence != "" {
				sentences = append(sentences, sentence)
			}
		}
	}

	return sentences
}

func outlineDeck(title string, outline []OutlineSlide) assembler.Deck {
	deck := assembler.Deck{
		PresentationID: uuid.New().String(),
		Title:          title,
		Template:       "corporate",
		Slides:         make([]assembler.Slide, 0, len(outline)),
	}

	for i, slide := range outline {
		notes := ""
		if slide.ImagePrompt != "" {
			notes = "Image: " + slide.ImagePrompt
		}

		deck.Slides = append(deck.Slides, assembler.Slide{
			Number:       i + 1,
			Type:         "content",
			Title:        slide.Title,
			Content:      slide.Bullets,
			SpeakerNotes: notes,
		})
	}

	return deck
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit])
}
