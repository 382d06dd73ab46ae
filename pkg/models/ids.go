package models

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes. Every identifier is "<prefix>_<opaque>", UTF-8, at most 64
// characters; the prefix determines which table the ID resolves against.
const (
	PrefixHandoff  = "hof"
	PrefixNote     = "kn"
	PrefixCapsule  = "cap"
	PrefixFeedback = "fb"
	PrefixDecision = "dec"
	PrefixEdge     = "edge"
	PrefixEvent    = "evt"
	PrefixJob      = "cj"
)

// MaxIDLength is the upper bound on identifier length.
const MaxIDLength = 64

// NewID generates a prefixed identifier, e.g. "hof_6ba7b810c9dd4ef98bb6...".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NodeKind names the entity kind an ID prefix maps to.
type NodeKind string

const (
	NodeKindHandoff  NodeKind = "handoff"
	NodeKindNote     NodeKind = "knowledge_note"
	NodeKindCapsule  NodeKind = "capsule"
	NodeKindFeedback NodeKind = "agent_feedback"
	NodeKindDecision NodeKind = "decision"
)

// KindOfID returns the node kind an identifier belongs to, based on its
// prefix, and false for unknown or malformed IDs.
func KindOfID(id string) (NodeKind, bool) {
	if len(id) == 0 || len(id) > MaxIDLength {
		return "", false
	}
	prefix, _, found := strings.Cut(id, "_")
	if !found {
		return "", false
	}
	switch prefix {
	case PrefixHandoff:
		return NodeKindHandoff, true
	case PrefixNote:
		return NodeKindNote, true
	case PrefixCapsule:
		return NodeKindCapsule, true
	case PrefixFeedback:
		return NodeKindFeedback, true
	case PrefixDecision:
		return NodeKindDecision, true
	default:
		return "", false
	}
}
