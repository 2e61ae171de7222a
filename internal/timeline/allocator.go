// Package timeline maps visual assets of heterogeneous natural duration
// onto a fixed total duration, producing the ordered, gap-free slice
// sequence the render stage consumes.
package timeline

import (
	"fmt"

	"github.com/topicreel/api/internal/model"
)

const (
	// ImageSliceSeconds is the nominal duration assigned to a still image.
	ImageSliceSeconds = 5.0

	// MaxVideoSliceSeconds caps how much of a single video clip is used.
	MaxVideoSliceSeconds = 15.0

	// Epsilon is the tolerated difference between the summed slice
	// durations and the target duration.
	Epsilon = 1.0

	// maxCycles bounds how many times the asset list may be reused before
	// allocation gives up. Producing a black gap instead is not an option.
	maxCycles = 3
)

// AllocationError means the asset list cannot cover the target duration
// within the cycle bound. Retrying with the same asset set cannot change
// the outcome, so this error is terminal.
type AllocationError struct {
	TargetSeconds  float64
	AssetCount     int
	CoveredSeconds float64
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("cannot fill %.1fs of timeline from %d assets after %d cycles (covered %.1fs)",
		e.TargetSeconds, e.AssetCount, maxCycles, e.CoveredSeconds)
}

// nominalSeconds returns the slice duration an asset contributes before
// truncation. Assets with no usable duration contribute nothing.
func nominalSeconds(asset model.VisualAsset) float64 {
	switch asset.Kind {
	case model.VisualKindImage:
		return ImageSliceSeconds
	case model.VisualKindVideo:
		if asset.NativeDurationSeconds <= 0 {
			return 0
		}
		if asset.NativeDurationSeconds > MaxVideoSliceSeconds {
			return MaxVideoSliceSeconds
		}
		return asset.NativeDurationSeconds
	default:
		return 0
	}
}

// Allocate walks the asset list in collaborator-return order, accumulating
// slices until the target duration is reached; the final slice is truncated
// so the cumulative total equals the target exactly. If the list is
// exhausted the walk wraps around, reusing assets from the start, for at
// most three full cycles. Allocate is deterministic given the same inputs.
func Allocate(assets []model.VisualAsset, targetSeconds float64) ([]model.VisualSlice, error) {
	if targetSeconds <= 0 {
		return nil, fmt.Errorf("target duration must be positive, got %.2f", targetSeconds)
	}
	if len(assets) == 0 {
		return nil, &AllocationError{TargetSeconds: targetSeconds}
	}

	var slices []model.VisualSlice
	var elapsed float64

	for cycle := 0; cycle < maxCycles; cycle++ {
		for _, asset := range assets {
			nominal := nominalSeconds(asset)
			if nominal <= 0 {
				continue
			}
			remaining := targetSeconds - elapsed
			if remaining <= 0 {
				break
			}
			dur := nominal
			if dur > remaining {
				dur = remaining
			}
			slices = append(slices, model.VisualSlice{
				Asset:                asset,
				StartOffsetSeconds:   elapsed,
				SliceDurationSeconds: dur,
			})
			elapsed += dur
		}
		if elapsed >= targetSeconds {
			return slices, nil
		}
	}

	return nil, &AllocationError{
		TargetSeconds:  targetSeconds,
		AssetCount:     len(assets),
		CoveredSeconds: elapsed,
	}
}
