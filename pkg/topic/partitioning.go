package topic

import "hash/maphash"

// PartitioningKind tags which field of Partitioning is meaningful.
type PartitioningKind uint8

const (
	PartitioningBalanced PartitioningKind = iota
	PartitioningFixed
	PartitioningMessageKey
)

// Partitioning is the tagged union spec.md §4.4 resolves a partition_id
// from: {Balanced | PartitionId(n) | MessageKey(bytes)}.
type Partitioning struct {
	Kind        PartitioningKind
	PartitionID uint32
	Key         []byte
}

func Balanced() Partitioning { return Partitioning{Kind: PartitioningBalanced} }
func Fixed(partitionID uint32) Partitioning {
	return Partitioning{Kind: PartitioningFixed, PartitionID: partitionID}
}
func ByMessageKey(key []byte) Partitioning {
	return Partitioning{Kind: PartitioningMessageKey, Key: key}
}

// hashKey hashes key with a topic-scoped seed (hash/maphash, stdlib — see
// DESIGN.md/SPEC_FULL.md §4.4: no hashing library in the retrieved pack
// is imported directly by any example repo's own code).
func hashKey(seed maphash.Seed, key []byte) uint64 {
	return maphash.Bytes(seed, key)
}
