// Package types defines the core data structures for the Kairos knowledge
// graph: entities, mentions, relationship edges, and their supporting
// evidence and audit records.
package types

// EntityType classifies an entity in the knowledge graph.
type EntityType string

// EntityStatus represents the lifecycle status of an entity.
type EntityStatus string

// ResolutionState represents the resolution outcome of a mention.
type ResolutionState string

// EdgeType classifies a directed relationship between two entities.
type EdgeType string

// MergeStatus represents the progress of an entity merge.
type MergeStatus string

// Entity type constants.
const (
	EntityPerson       EntityType = "Person"
	EntityOrganization EntityType = "Organization"
	EntityProject      EntityType = "Project"
)

// Entity status constants.
const (
	// StatusResolved indicates the entity has a strong identifier (email)
	// or was confirmed by the user.
	StatusResolved EntityStatus = "resolved"

	// StatusProvisional indicates the entity was created from mentions and
	// awaits a stronger identifier or confirmation.
	StatusProvisional EntityStatus = "provisional"

	// StatusMerged indicates the entity was merged into another entity.
	// Merged entities are permanent tombstones: never deleted, never reused.
	StatusMerged EntityStatus = "merged"
)

// Mention resolution state constants.
const (
	// StateLinked indicates the mention was matched to an existing entity.
	StateLinked ResolutionState = "linked"

	// StateAmbiguous indicates multiple candidates exist and no entity was
	// chosen. Ambiguous mentions never carry a linked entity id.
	StateAmbiguous ResolutionState = "ambiguous"

	// StateNewEntityCreated indicates no plausible match existed and a new
	// provisional entity was created from the mention.
	StateNewEntityCreated ResolutionState = "new_entity_created"
)

// Edge type constants.
const (
	EdgeWorksAt    EdgeType = "WORKS_AT"   // Person -> Organization
	EdgeWorksOn    EdgeType = "WORKS_ON"   // Person -> Project
	EdgeRelatesTo  EdgeType = "RELATES_TO" // Person -> Person (with label property)
	EdgeIntroduced EdgeType = "INTRODUCED" // Person -> Person
)

// Merge audit status constants.
const (
	MergePending    MergeStatus = "pending"
	MergeInProgress MergeStatus = "in_progress"
	MergeCompleted  MergeStatus = "completed"
	MergeFailed     MergeStatus = "failed"
)

// Bounds on stored collections.
const (
	// MaxTopEvidence caps an entity's inline evidence list. Evidence beyond
	// the cap is moved to the overflow store, never dropped.
	MaxTopEvidence = 10

	// MaxRecentMeetings caps an entity's recent meeting ring buffer.
	MaxRecentMeetings = 10

	// MaxEdgeEvidence caps the evidence list carried on a single edge.
	MaxEdgeEvidence = 5
)

// ValidEntityTypes lists all valid entity types for validation.
var ValidEntityTypes = []EntityType{
	EntityPerson,
	EntityOrganization,
	EntityProject,
}

// ValidEdgeTypes lists all valid edge types for validation.
var ValidEdgeTypes = []EdgeType{
	EdgeWorksAt,
	EdgeWorksOn,
	EdgeRelatesTo,
	EdgeIntroduced,
}

// IsValidEntityType checks if the given entity type is valid.
func IsValidEntityType(t EntityType) bool {
	for _, valid := range ValidEntityTypes {
		if valid == t {
			return true
		}
	}
	return false
}

// IsValidEdgeType checks if the given edge type is valid.
func IsValidEdgeType(t EdgeType) bool {
	for _, valid := range ValidEdgeTypes {
		if valid == t {
			return true
		}
	}
	return false
}

// IsValidResolutionState checks if the given resolution state is valid.
func IsValidResolutionState(s ResolutionState) bool {
	switch s {
	case StateLinked, StateAmbiguous, StateNewEntityCreated:
		return true
	}
	return false
}
