// Package workflow drives presentation generation stages through the pipeline graph.
package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/google/uuid"
)

// Stage performs one unit of domain work. Implementations report failures through the returned
// result; a panic is contained by the Executor. When an attempt times out the Executor records the
// failure without waiting, so Execute may keep running with a cancelled ctx and must check it before
// any side effect that outlives the attempt.
type Stage interface {
	Name() models.StageName
	Execute(ctx context.Context, view models.StateView, sctx models.StageContext) models.StageResult
}

// Describer is implemented by stages that publish metadata.
type Describer interface {
	Describe() Descriptor
}

// Descriptor holds stage metadata. SlotKey, when set, selects the entry of the result data
// written to the output slot instead of the whole mapping.
type Descriptor struct {
	Description string
	Slot        models.Slot
	SlotKey     string
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName models.StageName
	Fn        func(ctx context.Context, view models.StateView, sctx models.StageContext) models.StageResult
}

func (f StageFunc) Name() models.StageName {
	return f.StageName
}

func (f StageFunc) Execute(ctx context.Context, view models.StateView, sctx models.StageContext) models.StageResult {
	return f.Fn(ctx, view, sctx)
}

var defaultSlotKeys = map[models.StageName]string{
	models.StageContent: "slides",
}

type registeredStage struct {
	id         string
	stage      Stage
	descriptor Descriptor
}

// Registry maps stage names to implementations.
type Registry struct {
	mu     sync.RWMutex
	stages map[models.StageName]registeredStage
}

func NewRegistry() *Registry {
	return &Registry{
		stages: make(map[models.StageName]registeredStage),
	}
}

// Register adds stage under its name, replacing any previous registration.
func (r *Registry) Register(stage Stage) {
	name := stage.Name()

	descriptor := Descriptor{SlotKey: defaultSlotKeys[name]}
	if slot, ok := name.Slot(); ok {
		descriptor.Slot = slot
	}

	if d, ok := stage.(Describer); ok {
		described := d.Describe()
		descriptor.Description = described.Description

		if described.Slot != "" {
			descriptor.Slot = described.Slot
		}

		if described.SlotKey != "" {
			descriptor.SlotKey = described.SlotKey
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stages[name] = registeredStage{
		id:         uuid.NewString(),
		stage:      stage,
		descriptor: descriptor,
	}
}

func (r *Registry) lookup(name models.StageName) (registeredStage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.stages[name]
	if !ok {
		return registeredStage{}, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}

	return entry, nil
}

// Lookup returns the stage registered under name.
func (r *Registry) Lookup(name models.StageName) (Stage, error) {
	entry, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	return entry.stage, nil
}

// Descriptor returns the metadata registered for name.
func (r *Registry) Descriptor(name models.StageName) (Descriptor, bool) {
	entry, err := r.lookup(name)
	if err != nil {
		return Descriptor{}, false
	}

	return entry.descriptor, true
}

// Len returns the number of registered stages.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.stages)
}
