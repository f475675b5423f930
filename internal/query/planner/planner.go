// Package planner assigns the files of a table to a fixed number of scan
// partitions.
package planner

import (
	"fmt"
	"sort"

	ipcerrors "github.com/arkilian/ipcscan/internal/errors"
	"github.com/arkilian/ipcscan/pkg/types"
)

// Options tunes how files are weighed.
type Options struct {
	// WeightByRows weighs files by row count when every file has a known
	// row count. Byte size is used otherwise.
	WeightByRows bool
}

// Plan splits files into exactly desiredPartitions partitions using the
// default options.
func Plan(files []types.FileRef, desiredPartitions int) ([]types.PartitionSpec, error) {
	return PlanWithOptions(files, desiredPartitions, Options{})
}

// PlanWithOptions splits files into exactly desiredPartitions partitions.
// Every record batch of every file lands in exactly one partition. Excess
// partitions are empty and come last. The result depends only on the
// inputs.
func PlanWithOptions(files []types.FileRef, desiredPartitions int, opts Options) ([]types.PartitionSpec, error) {
	if desiredPartitions < 1 {
		return nil, ipcerrors.InvalidPlan(fmt.Sprintf("target partitions must be >= 1, got %d", desiredPartitions))
	}

	byRows := opts.WeightByRows && allRowsKnown(files)
	slices := make([]weighted, 0, len(files))
	for _, f := range files {
		slices = append(slices, weighted{
			slice:      types.WholeFile(f),
			fileWeight: fileWeight(f, byRows),
		})
	}

	slices = split(slices, desiredPartitions)

	sort.SliceStable(slices, func(i, j int) bool {
		wi, wj := slices[i].weight(), slices[j].weight()
		if wi != wj {
			return wi > wj
		}
		return sliceLess(slices[i].slice, slices[j].slice)
	})

	parts := make([]types.PartitionSpec, desiredPartitions)
	for _, s := range slices {
		target := 0
		for i := 1; i < len(parts); i++ {
			if parts[i].Weight < parts[target].Weight {
				target = i
			}
		}
		parts[target].Slices = append(parts[target].Slices, s.slice)
		parts[target].Weight += s.weight()
	}

	for i := range parts {
		sort.Slice(parts[i].Slices, func(a, b int) bool {
			return sliceLess(parts[i].Slices[a], parts[i].Slices[b])
		})
	}

	sort.SliceStable(parts, func(i, j int) bool {
		pi, pj := parts[i], parts[j]
		if pi.IsEmpty() != pj.IsEmpty() {
			return !pi.IsEmpty()
		}
		if pi.IsEmpty() {
			return false
		}
		if pi.Weight != pj.Weight {
			return pi.Weight < pj.Weight
		}
		return sliceLess(pi.Slices[0], pj.Slices[0])
	})
	for i := range parts {
		parts[i].Index = i
	}
	return parts, nil
}

// weighted is a candidate slice with the weight of its whole file.
type weighted struct {
	slice      types.FileSlice
	fileWeight int64
}

// weight prorates the file weight by the share of batches the slice covers.
func (w weighted) weight() int64 {
	total := w.slice.File.NumBatches
	if total == 0 || w.slice.IsWhole() {
		return w.fileWeight
	}
	return w.fileWeight * int64(w.slice.NumBatches) / int64(total)
}

// split halves the heaviest splittable slice until there are as many
// slices as partitions or no slice has more than one batch.
func split(slices []weighted, desired int) []weighted {
	for len(slices) < desired {
		best := -1
		for i, s := range slices {
			if s.slice.NumBatches < 2 {
				continue
			}
			if best < 0 || s.weight() > slices[best].weight() ||
				(s.weight() == slices[best].weight() && sliceLess(s.slice, slices[best].slice)) {
				best = i
			}
		}
		if best < 0 {
			break
		}

		s := slices[best]
		head := (s.slice.NumBatches + 1) / 2
		first := weighted{
			slice:      types.FileSlice{File: s.slice.File, FirstBatch: s.slice.FirstBatch, NumBatches: head},
			fileWeight: s.fileWeight,
		}
		second := weighted{
			slice: types.FileSlice{
				File:       s.slice.File,
				FirstBatch: s.slice.FirstBatch + head,
				NumBatches: s.slice.NumBatches - head,
			},
			fileWeight: s.fileWeight,
		}
		slices[best] = first
		slices = append(slices, second)
	}
	return slices
}

func sliceLess(a, b types.FileSlice) bool {
	if a.File.Path != b.File.Path {
		return a.File.Path < b.File.Path
	}
	return a.FirstBatch < b.FirstBatch
}

func allRowsKnown(files []types.FileRef) bool {
	for _, f := range files {
		if f.Stats.NumRows == nil {
			return false
		}
	}
	return true
}

func fileWeight(f types.FileRef, byRows bool) int64 {
	if byRows {
		return *f.Stats.NumRows
	}
	return f.Size
}
