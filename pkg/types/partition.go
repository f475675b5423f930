package types

import "fmt"

// PartitioningKind describes how rows are distributed across partitions.
type PartitioningKind string

const (
	// PartitioningUnknown means rows are spread without any ordering or key property
	PartitioningUnknown PartitioningKind = "unknown"

	// PartitioningRoundRobin distributes batches across partitions in turn
	PartitioningRoundRobin PartitioningKind = "roundrobin"

	// PartitioningHash routes rows by a hash of key columns
	PartitioningHash PartitioningKind = "hash"

	// PartitioningRange routes rows by ranges of key columns
	PartitioningRange PartitioningKind = "range"
)

// Partitioning describes the number of independent output units of a plan node.
type Partitioning struct {
	// Kind is the distribution property of the output
	Kind PartitioningKind `json:"kind"`

	// Count is the number of partitions; Execute accepts indices in [0, Count)
	Count int `json:"count"`

	// Keys lists the key column names for hash and range partitioning
	Keys []string `json:"keys,omitempty"`
}

// UnknownPartitioning returns an unordered partitioning with n partitions.
func UnknownPartitioning(n int) Partitioning {
	return Partitioning{Kind: PartitioningUnknown, Count: n}
}

func (p Partitioning) String() string {
	if len(p.Keys) > 0 {
		return fmt.Sprintf("%s(%d, keys=%v)", p.Kind, p.Count, p.Keys)
	}
	return fmt.Sprintf("%s(%d)", p.Kind, p.Count)
}

// FileRef describes one member file of a table as discovered from storage
// and its footer.
type FileRef struct {
	// Path is the object path relative to the storage root
	Path string `json:"path"`

	// Size is the file size in bytes
	Size int64 `json:"size"`

	// NumBatches is the number of record batches in the file footer
	NumBatches int `json:"num_batches"`

	// Stats holds statistics embedded in the file, or unknown
	Stats Statistics `json:"stats"`
}

// FileSlice is a contiguous range of record batches of one file.
// Batches are the atomic unit of work and are never split.
type FileSlice struct {
	File       FileRef `json:"file"`
	FirstBatch int     `json:"first_batch"`
	NumBatches int     `json:"num_batches"`
}

// WholeFile returns a slice covering every batch of f.
func WholeFile(f FileRef) FileSlice {
	return FileSlice{File: f, FirstBatch: 0, NumBatches: f.NumBatches}
}

// IsWhole reports whether the slice covers the entire file.
func (s FileSlice) IsWhole() bool {
	return s.FirstBatch == 0 && s.NumBatches == s.File.NumBatches
}

func (s FileSlice) String() string {
	if s.IsWhole() {
		return s.File.Path
	}
	return fmt.Sprintf("%s[%d:%d]", s.File.Path, s.FirstBatch, s.FirstBatch+s.NumBatches)
}

// PartitionSpec is the unit of parallel work assigned to one partition.
type PartitionSpec struct {
	// Index is the partition number
	Index int `json:"index"`

	// Slices are scanned in order
	Slices []FileSlice `json:"slices"`

	// Weight is the planner's load estimate for this partition
	Weight int64 `json:"weight"`
}

// IsEmpty reports whether the partition has no work.
func (p PartitionSpec) IsEmpty() bool {
	return len(p.Slices) == 0
}
