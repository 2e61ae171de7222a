package timeline

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/topicreel/api/internal/model"
)

func imageAssets(n int) []model.VisualAsset {
	assets := make([]model.VisualAsset, n)
	for i := range assets {
		assets[i] = model.VisualAsset{
			Kind:      model.VisualKindImage,
			SourceRef: fmt.Sprintf("img-%d", i),
		}
	}
	return assets
}

func assertContiguous(t *testing.T, slices []model.VisualSlice, target float64) {
	t.Helper()

	var elapsed float64
	for i, s := range slices {
		if math.Abs(s.StartOffsetSeconds-elapsed) > 1e-9 {
			t.Fatalf("slice %d starts at %.4f, want %.4f", i, s.StartOffsetSeconds, elapsed)
		}
		if s.SliceDurationSeconds <= 0 {
			t.Fatalf("slice %d has non-positive duration %.4f", i, s.SliceDurationSeconds)
		}
		elapsed += s.SliceDurationSeconds
	}
	if math.Abs(elapsed-target) > Epsilon {
		t.Fatalf("slices total %.4fs, want %.1fs +- %.1fs", elapsed, target, Epsilon)
	}
}

func TestAllocateImagesExactFill(t *testing.T) {
	// 10 images of nominal 5s against 120s: two full passes plus four
	// more slices, 24 slices totalling exactly 120s.
	slices, err := Allocate(imageAssets(10), 120)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slices) != 24 {
		t.Fatalf("got %d slices, want 24", len(slices))
	}
	assertContiguous(t, slices, 120)

	var total float64
	for _, s := range slices {
		total += s.SliceDurationSeconds
	}
	if total != 120 {
		t.Fatalf("total %.4f, want exactly 120", total)
	}
}

func TestAllocateTruncatesFinalSlice(t *testing.T) {
	slices, err := Allocate(imageAssets(5), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slices) != 3 {
		t.Fatalf("got %d slices, want 3", len(slices))
	}
	last := slices[len(slices)-1]
	if last.SliceDurationSeconds != 2 {
		t.Fatalf("final slice is %.2fs, want 2s", last.SliceDurationSeconds)
	}
	assertContiguous(t, slices, 12)
}

func TestAllocateVideoDurationCap(t *testing.T) {
	assets := []model.VisualAsset{
		{Kind: model.VisualKindVideo, SourceRef: "long", NativeDurationSeconds: 60},
		{Kind: model.VisualKindVideo, SourceRef: "short", NativeDurationSeconds: 7},
	}
	slices, err := Allocate(assets, 22)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slices[0].SliceDurationSeconds != MaxVideoSliceSeconds {
		t.Fatalf("long clip sliced to %.1fs, want %.1fs", slices[0].SliceDurationSeconds, MaxVideoSliceSeconds)
	}
	if slices[1].SliceDurationSeconds != 7 {
		t.Fatalf("short clip sliced to %.1fs, want its native 7s", slices[1].SliceDurationSeconds)
	}
	assertContiguous(t, slices, 22)
}

func TestAllocateWrapsAround(t *testing.T) {
	// Two images cover 10s per cycle; 25s needs three cycles, still legal.
	slices, err := Allocate(imageAssets(2), 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertContiguous(t, slices, 25)
	if slices[0].Asset.SourceRef != slices[2].Asset.SourceRef {
		t.Fatalf("expected wrap-around reuse of first asset")
	}
}

func TestAllocateGivesUpAfterThreeCycles(t *testing.T) {
	_, err := Allocate(imageAssets(1), 1800)
	var allocErr *AllocationError
	if !errors.As(err, &allocErr) {
		t.Fatalf("expected AllocationError, got %v", err)
	}
	if allocErr.CoveredSeconds != 15 {
		t.Fatalf("covered %.1fs, want 15s (3 cycles of one 5s image)", allocErr.CoveredSeconds)
	}
}

func TestAllocateEmptyAssets(t *testing.T) {
	_, err := Allocate(nil, 60)
	var allocErr *AllocationError
	if !errors.As(err, &allocErr) {
		t.Fatalf("expected AllocationError, got %v", err)
	}
}

func TestAllocateSkipsZeroDurationVideos(t *testing.T) {
	assets := []model.VisualAsset{
		{Kind: model.VisualKindVideo, SourceRef: "broken", NativeDurationSeconds: 0},
		{Kind: model.VisualKindImage, SourceRef: "ok"},
	}
	slices, err := Allocate(assets, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range slices {
		if s.Asset.SourceRef == "broken" {
			t.Fatalf("zero-duration video must not appear in the timeline")
		}
	}
	assertContiguous(t, slices, 10)
}

func TestAllocateDeterministic(t *testing.T) {
	assets := []model.VisualAsset{
		{Kind: model.VisualKindImage, SourceRef: "a"},
		{Kind: model.VisualKindVideo, SourceRef: "b", NativeDurationSeconds: 9},
		{Kind: model.VisualKindImage, SourceRef: "c"},
	}
	first, err := Allocate(assets, 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Allocate(assets, 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("allocation not deterministic: %d vs %d slices", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("slice %d differs between runs", i)
		}
	}
}

func TestAllocateRandomizedProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 500; iter++ {
		n := rng.Intn(40) + 1
		assets := make([]model.VisualAsset, n)
		for i := range assets {
			if rng.Intn(2) == 0 {
				assets[i] = model.VisualAsset{Kind: model.VisualKindImage, SourceRef: fmt.Sprintf("i%d", i)}
			} else {
				assets[i] = model.VisualAsset{
					Kind:                  model.VisualKindVideo,
					SourceRef:             fmt.Sprintf("v%d", i),
					NativeDurationSeconds: rng.Float64() * 30,
				}
			}
		}
		target := float64(rng.Intn(1771) + 30) // 30..1800

		slices, err := Allocate(assets, target)
		if err != nil {
			var allocErr *AllocationError
			if !errors.As(err, &allocErr) {
				t.Fatalf("iter %d: unexpected error type: %v", iter, err)
			}
			continue
		}
		assertContiguous(t, slices, target)
	}
}
