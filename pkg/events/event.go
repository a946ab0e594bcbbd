package events

import (
	"fmt"
	"strings"
)

// Kind identifies the entity lifecycle transition an event reports
type Kind string

const (
	Created  Kind = "created"
	Updated  Kind = "updated"
	Deleted  Kind = "deleted"
	Restored Kind = "restored"
)

// entitySegment sits between the repository id and the kind in event names
const entitySegment = "entity"

// Event is a repository notification. Payload carries the repository that
// produced the event followed by the affected entity.
type Event struct {
	Name         string
	RepositoryID string
	Kind         Kind
	Payload      []any
}

// EntityEvent builds the event "{repositoryID}.entity.{kind}"
func EntityEvent(repositoryID string, kind Kind, repository, entity any) Event {
	return Event{
		Name:         Name(repositoryID, kind),
		RepositoryID: repositoryID,
		Kind:         kind,
		Payload:      []any{repository, entity},
	}
}

// Name returns the event name for a repository and kind
func Name(repositoryID string, kind Kind) string {
	return fmt.Sprintf("%s.%s.%s", repositoryID, entitySegment, kind)
}

// Pattern returns the wildcard pattern matching kind for every repository
func Pattern(kind Kind) string {
	return Name("*", kind)
}

// Repository returns the first payload element, if any
func (e Event) Repository() any {
	if len(e.Payload) == 0 {
		return nil
	}
	return e.Payload[0]
}

// Entity returns the second payload element, if any
func (e Event) Entity() any {
	if len(e.Payload) < 2 {
		return nil
	}
	return e.Payload[1]
}

// KindOf extracts the kind suffix from an event name
func KindOf(name string) (Kind, bool) {
	idx := strings.LastIndex(name, "."+entitySegment+".")
	if idx < 0 {
		return "", false
	}
	return Kind(name[idx+len(entitySegment)+2:]), true
}
