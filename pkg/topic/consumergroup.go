package topic

import (
	"sort"
	"sync"

	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/pkg/segment"
)

// ConsumerGroup tracks membership and partition assignment for a set of
// clients cooperatively consuming a topic (spec.md §3/§4.4).
type ConsumerGroup struct {
	ID      uint32
	Name    string
	TopicID uint32

	mu          sync.RWMutex
	joinOrder   []uint32            // member IDs in join order
	assignments map[uint32]uint32   // partition_id -> member_id
	cursors     map[uint32]int      // member_id -> index into its own assigned-partition slice
}

func newConsumerGroup(id, topicID uint32, name string) *ConsumerGroup {
	return &ConsumerGroup{
		ID:          id,
		Name:        name,
		TopicID:     topicID,
		assignments: make(map[uint32]uint32),
		cursors:     make(map[uint32]int),
	}
}

// rebalance deterministically re-deals partitionIDs (ordered ascending)
// across members (ordered by join time) one at a time, round-robin, so
// each member ends up with ⌈P/M⌉ or ⌊P/M⌋ partitions (spec.md §4.4).
func (g *ConsumerGroup) rebalance(partitionIDs []uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.assignments = make(map[uint32]uint32)
	if len(g.joinOrder) == 0 {
		return
	}
	sorted := append([]uint32(nil), partitionIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	m := len(g.joinOrder)
	for i, pid := range sorted {
		member := g.joinOrder[i%m]
		g.assignments[pid] = member
	}
	for member := range g.cursors {
		g.cursors[member] = 0
	}
}

// Join adds memberID at the end of the join order and triggers rebalance.
func (g *ConsumerGroup) Join(memberID uint32, partitionIDs []uint32) error {
	g.mu.Lock()
	for _, m := range g.joinOrder {
		if m == memberID {
			g.mu.Unlock()
			return ierr.Conflict(ierr.CodeGroupExists, "member already joined")
		}
	}
	g.joinOrder = append(g.joinOrder, memberID)
	if g.cursors == nil {
		g.cursors = make(map[uint32]int)
	}
	g.cursors[memberID] = 0
	g.mu.Unlock()

	g.rebalance(partitionIDs)
	return nil
}

// Leave removes memberID and triggers rebalance.
func (g *ConsumerGroup) Leave(memberID uint32, partitionIDs []uint32) error {
	g.mu.Lock()
	idx := -1
	for i, m := range g.joinOrder {
		if m == memberID {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return ierr.NotFound(ierr.CodeConsumerGroupNotFound, "member not in group")
	}
	g.joinOrder = append(g.joinOrder[:idx], g.joinOrder[idx+1:]...)
	delete(g.cursors, memberID)
	g.mu.Unlock()

	g.rebalance(partitionIDs)
	return nil
}

// AssignmentsSnapshot returns a copy of partition_id -> member_id.
func (g *ConsumerGroup) AssignmentsSnapshot() map[uint32]uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[uint32]uint32, len(g.assignments))
	for k, v := range g.assignments {
		out[k] = v
	}
	return out
}

// assignedPartitionsFor returns memberID's assigned partition IDs,
// ascending.
func (g *ConsumerGroup) assignedPartitionsFor(memberID uint32) []uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []uint32
	for pid, mid := range g.assignments {
		if mid == memberID {
			out = append(out, pid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// nextPartitionFor advances memberID's round-robin cursor among its own
// assigned partitions and returns the partition to poll next (spec.md
// §4.4: "per-group partition cursor advances round-robin among assigned
// partitions of the requesting member").
func (g *ConsumerGroup) nextPartitionFor(memberID uint32) (uint32, bool) {
	assigned := g.assignedPartitionsFor(memberID)
	if len(assigned) == 0 {
		return 0, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	cur := g.cursors[memberID] % len(assigned)
	pid := assigned[cur]
	g.cursors[memberID] = (cur + 1) % len(assigned)
	return pid, true
}

// ConsumeForGroupResult is the outcome of one ConsumeForGroup call.
type ConsumeForGroupResult struct {
	PartitionID uint32
	Messages    []segment.Message
}
