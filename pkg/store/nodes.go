package store

import (
	"context"
	"fmt"

	"github.com/engram-memory/engram/pkg/models"
)

// ResolveNode loads the entity behind a graph node id. The entity table is
// chosen from the id prefix, so an id that exists in a different table than
// its prefix claims still resolves to ErrNotFound.
func (s *Store) ResolveNode(ctx context.Context, tenantID, nodeID string) (*models.Node, error) {
	kind, ok := models.KindOfID(nodeID)
	if !ok {
		return nil, fmt.Errorf("cannot resolve node %q: unknown id prefix", nodeID)
	}

	node := &models.Node{NodeID: nodeID, Kind: kind}
	switch kind {
	case models.NodeKindHandoff:
		h, err := s.GetHandoff(ctx, tenantID, nodeID)
		if err != nil {
			return nil, err
		}
		node.Payload = h
	case models.NodeKindNote:
		n, err := s.GetNote(ctx, tenantID, nodeID)
		if err != nil {
			return nil, err
		}
		node.Payload = n
	case models.NodeKindCapsule:
		c, err := s.GetCapsule(ctx, tenantID, nodeID)
		if err != nil {
			return nil, err
		}
		node.Payload = c
	case models.NodeKindFeedback:
		f, err := s.GetFeedback(ctx, tenantID, nodeID)
		if err != nil {
			return nil, err
		}
		node.Payload = f
	case models.NodeKindDecision:
		d, err := s.GetDecision(ctx, tenantID, nodeID)
		if err != nil {
			return nil, err
		}
		node.Payload = d
	default:
		return nil, fmt.Errorf("cannot resolve node %q: kind %q is not linkable", nodeID, string(kind))
	}
	return node, nil
}
