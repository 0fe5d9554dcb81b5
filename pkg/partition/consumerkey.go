package partition

// ConsumerKeyKind tags which half of ConsumerKey is meaningful.
type ConsumerKeyKind uint8

const (
	// KeyDirect addresses a single, unaffiliated consumer.
	KeyDirect ConsumerKeyKind = iota
	// KeyGroup addresses a consumer group (spec.md §3).
	KeyGroup
)

// ConsumerKey tags a stored consumer offset as belonging to a direct
// consumer or a consumer group (spec.md §3: "Tagged {Direct(consumer_id) |
// Group(group_id)}"). It is comparable, so it can key a plain map.
type ConsumerKey struct {
	Kind ConsumerKeyKind
	ID   uint32
}

// Direct builds a ConsumerKey for an unaffiliated consumer.
func Direct(consumerID uint32) ConsumerKey { return ConsumerKey{Kind: KeyDirect, ID: consumerID} }

// Group builds a ConsumerKey for a consumer group.
func Group(groupID uint32) ConsumerKey { return ConsumerKey{Kind: KeyGroup, ID: groupID} }
