package engine

import (
	"context"
	"fmt"

	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/pkg/textx"
)

// Drop reasons reported by the filter pipeline.
const (
	DropTypeFilter  = "type_filtered"
	DropPhraseBlock = "phrase_blocked"
	DropImageBlock  = "image_blocked"
	DropEditGated   = "edits_disabled"
	DropDeleteGated = "deletions_disabled"
	DropChainLoop   = "chain_loop"
	DropDailyCap    = "daily_cap"
)

// Verdict is the outcome of running one event through a pair's filters.
type Verdict struct {
	Allowed bool
	Reason  string
	// Snapshot carries the possibly transformed payload when allowed.
	Snapshot domain.MessageSnapshot
}

func drop(reason string) Verdict { return Verdict{Reason: reason} }

// FilterPipeline applies per-pair and user-wide content rules in a fixed
// order: message type, blocked phrases, blocked images, plan-gated
// transforms, then event-kind gating.
type FilterPipeline struct {
	Filters domain.FilterRepository
}

// NewFilterPipeline constructs the pipeline.
func NewFilterPipeline(filters domain.FilterRepository) *FilterPipeline {
	return &FilterPipeline{Filters: filters}
}

// Evaluate runs the event through the pair's filters. advanced gates the
// plan-only transforms.
func (f *FilterPipeline) Evaluate(ctx context.Context, pair domain.Pair, ev domain.UpdateEvent, advanced bool) (Verdict, error) {
	snap := ev.Snapshot

	switch pair.TypeFilter {
	case domain.FilterMedia:
		if !snap.Media.HasMedia() {
			return drop(DropTypeFilter), nil
		}
	case domain.FilterText:
		if snap.Media.HasMedia() {
			return drop(DropTypeFilter), nil
		}
	}

	if snap.Text != "" {
		phrases, err := f.Filters.PhrasesFor(ctx, pair.UserID, pair.ID)
		if err != nil {
			return Verdict{}, fmt.Errorf("op=filter.phrases: %w", err)
		}
		for _, rule := range phrases {
			if textx.ContainsFold(snap.Text, rule.Text) {
				return drop(DropPhraseBlock), nil
			}
		}
	}

	if snap.Media == domain.MediaPhoto && snap.ImageHash != "" {
		images, err := f.Filters.ImagesFor(ctx, pair.UserID, pair.ID)
		if err != nil {
			return Verdict{}, fmt.Errorf("op=filter.images: %w", err)
		}
		for _, rule := range images {
			if rule.ImageHash == snap.ImageHash {
				return drop(DropImageBlock), nil
			}
		}
	}

	if advanced {
		for old, repl := range pair.Substitutions {
			snap.Text = textx.ReplaceAllFold(snap.Text, old, repl)
		}
		if pair.Watermark != "" && snap.Text != "" {
			snap.Text = snap.Text + "\n" + pair.Watermark
		}
	}

	switch ev.Kind {
	case domain.EventEdit:
		if !pair.ForwardEdits {
			return drop(DropEditGated), nil
		}
	case domain.EventDelete:
		if !pair.ForwardDeletes {
			return drop(DropDeleteGated), nil
		}
	}

	return Verdict{Allowed: true, Snapshot: snap}, nil
}
