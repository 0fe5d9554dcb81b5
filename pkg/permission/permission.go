// Package permission implements spec.md §4.7: (user, action, resource
// scope) -> Allow | Deny authorization decisions.
package permission

import "github.com/driftline/driftline/internal/ierr"

// Action is one of the 14 operations spec.md §4.7 names.
type Action uint8

const (
	ManageServer Action = iota
	ReadServer
	ManageUsers
	ReadUsers
	ManageStreams
	ReadStreams
	ManageTopics
	ReadTopics
	AppendMessages
	PollMessages
	ManageConsumerGroups
	ReadConsumerGroups
	StoreOffset
	ReadOffset
)

// ScopeKind tags which field of Scope is meaningful.
type ScopeKind uint8

const (
	ScopeGlobal ScopeKind = iota
	ScopeStream
	ScopeTopic
)

// Scope is the resource a permission check applies to: global, a
// specific stream, or a specific (stream, topic) pair.
type Scope struct {
	Kind     ScopeKind
	StreamID uint32
	TopicID  uint32
}

func Global() Scope                            { return Scope{Kind: ScopeGlobal} }
func OnStream(streamID uint32) Scope           { return Scope{Kind: ScopeStream, StreamID: streamID} }
func OnTopic(streamID, topicID uint32) Scope {
	return Scope{Kind: ScopeTopic, StreamID: streamID, TopicID: topicID}
}

// grantKey is the compiled lookup key for one (action, scope) grant.
type grantKey struct {
	action Action
	scope  Scope
}

// Set is one user's compiled permission set: an explicit set of granted
// (action, scope) pairs, plus whether the action is granted at every
// scope narrower than a held broader grant (global implies stream and
// topic; stream implies its topics).
type Set struct {
	IsRoot bool
	grants map[grantKey]bool
}

// NewSet builds an empty, non-root permission set.
func NewSet() *Set {
	return &Set{grants: make(map[grantKey]bool)}
}

// Root builds the permission set for the root user, which bypasses every
// check (spec.md §4.7).
func Root() *Set {
	return &Set{IsRoot: true, grants: make(map[grantKey]bool)}
}

// Grant adds an (action, scope) pair to the set.
func (s *Set) Grant(action Action, scope Scope) {
	s.grants[grantKey{action, scope}] = true
}

// Revoke removes a previously granted (action, scope) pair.
func (s *Set) Revoke(action Action, scope Scope) {
	delete(s.grants, grantKey{action, scope})
}

// Allowed reports whether action is permitted at scope, honoring the
// broader-implies-narrower rule: a global grant covers every stream and
// topic; a stream grant covers every topic within it.
func (s *Set) Allowed(action Action, scope Scope) bool {
	if s.IsRoot {
		return true
	}
	if s.grants[grantKey{action, Global()}] {
		return true
	}
	switch scope.Kind {
	case ScopeGlobal:
		return false
	case ScopeStream:
		return s.grants[grantKey{action, scope}]
	case ScopeTopic:
		if s.grants[grantKey{action, scope}] {
			return true
		}
		return s.grants[grantKey{action, OnStream(scope.StreamID)}]
	default:
		return false
	}
}

// Check returns ierr.Unauthorized() when action is not permitted at
// scope, nil otherwise — the shape pkg/system's methods consult before
// acting.
func Check(set *Set, action Action, scope Scope) error {
	if set == nil || !set.Allowed(action, scope) {
		return ierr.Unauthorized()
	}
	return nil
}

// Grant is one explicit (action, scope) pair, exposed read-only for
// serializing a Set (see pkg/command's UpdatePermissions codec, which
// has no other way to reach the unexported grants map).
type Grant struct {
	Action Action
	Scope  Scope
}

// Grants returns every explicit grant in the set, in unspecified order.
func (s *Set) Grants() []Grant {
	out := make([]Grant, 0, len(s.grants))
	for k := range s.grants {
		out = append(out, Grant{Action: k.action, Scope: k.scope})
	}
	return out
}

// FromGrants builds a Set from a decoded grant list, e.g. off the wire.
func FromGrants(isRoot bool, grants []Grant) *Set {
	s := &Set{IsRoot: isRoot, grants: make(map[grantKey]bool, len(grants))}
	for _, g := range grants {
		s.Grant(g.Action, g.Scope)
	}
	return s
}
