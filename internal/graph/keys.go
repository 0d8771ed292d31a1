// Package graph persists the knowledge graph on the kv.Store contract.
// Every record lives in a per-user partition; secondary access paths
// (email, alias, mention state, entity mentions, seen meetings) are
// materialized index items co-written atomically with their primaries.
package graph

import (
	"strings"

	"github.com/kairoshq/kairos/pkg/types"
)

// Key layout. Sort keys are ordered within a partition, so every index
// below is queryable by prefix.
//
//	entity      USER#<uid>           ENTITY#<eid>
//	email ix    USER#<uid>#EMAIL     EMAIL#<email>
//	alias ix    USER#<uid>#ALIAS     ALIAS#<norm-alias>#<eid>
//	mention     USER#<uid>#MENTION   MENTION#<meeting>#<mid>
//	state ix    USER#<uid>#MSTATE    STATE#<state>#<mid>
//	ent→mnt ix  USER#<uid>#MENTITY   ENTITY#<eid>#<mid>
//	edge out    USER#<uid>#EDGE      OUT#<from>#TYPE#<type>#IN#<to>
//	edge in     USER#<uid>#EDGE      IN#<to>#TYPE#<type>#OUT#<from>
//	overflow    USER#<uid>#EVIDENCE  ENTITY#<eid>#<ts>#<seq>
//	merge audit USER#<uid>#MERGE     MERGE#<from>#<to>
//	seen ix     USER#<uid>#SEEN      MTG#<iso-ts>#<meeting>

func entityPartition(userID string) string  { return "USER#" + userID }
func emailPartition(userID string) string   { return "USER#" + userID + "#EMAIL" }
func aliasPartition(userID string) string   { return "USER#" + userID + "#ALIAS" }
func mentionPartition(userID string) string { return "USER#" + userID + "#MENTION" }
func mstatePartition(userID string) string  { return "USER#" + userID + "#MSTATE" }
func mentityPartition(userID string) string { return "USER#" + userID + "#MENTITY" }
func edgePartition(userID string) string    { return "USER#" + userID + "#EDGE" }
func overflowPartition(userID string) string {
	return "USER#" + userID + "#EVIDENCE"
}
func mergePartition(userID string) string { return "USER#" + userID + "#MERGE" }
func seenPartition(userID string) string  { return "USER#" + userID + "#SEEN" }

func entitySort(entityID string) string { return "ENTITY#" + entityID }

func emailSort(email string) string {
	return "EMAIL#" + strings.ToLower(email)
}

func aliasSort(normAlias, entityID string) string {
	return "ALIAS#" + normAlias + "#" + entityID
}

// aliasQueryPrefix matches every alias item starting with the normalized
// prefix, across entities.
func aliasQueryPrefix(normPrefix string) string {
	return "ALIAS#" + normPrefix
}

func mentionSort(meetingID, mentionID string) string {
	return "MENTION#" + meetingID + "#" + mentionID
}

func mentionMeetingPrefix(meetingID string) string {
	return "MENTION#" + meetingID + "#"
}

func mstateSort(state types.ResolutionState, mentionID string) string {
	return "STATE#" + string(state) + "#" + mentionID
}

func mstateQueryPrefix(state types.ResolutionState) string {
	return "STATE#" + string(state) + "#"
}

func mentitySort(entityID, mentionID string) string {
	return "ENTITY#" + entityID + "#" + mentionID
}

func mentityQueryPrefix(entityID string) string {
	return "ENTITY#" + entityID + "#"
}

func edgeOutSort(fromID string, edgeType types.EdgeType, toID string) string {
	return "OUT#" + fromID + "#TYPE#" + string(edgeType) + "#IN#" + toID
}

func edgeInSort(toID string, edgeType types.EdgeType, fromID string) string {
	return "IN#" + toID + "#TYPE#" + string(edgeType) + "#OUT#" + fromID
}

func edgeOutPrefix(fromID string) string { return "OUT#" + fromID + "#" }
func edgeInPrefix(toID string) string    { return "IN#" + toID + "#" }

func overflowSort(entityID, timestamp, seq string) string {
	return "ENTITY#" + entityID + "#" + timestamp + "#" + seq
}

func overflowQueryPrefix(entityID string) string {
	return "ENTITY#" + entityID + "#"
}

func mergeSort(fromID, toID string) string {
	return "MERGE#" + fromID + "#" + toID
}

func seenSort(startedAt, meetingID string) string {
	return "MTG#" + startedAt + "#" + meetingID
}
