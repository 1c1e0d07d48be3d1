package mirror

import (
	"context"
	"fmt"
)

// Node is a vertex in the relationship graph.
type Node struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// GraphLink is a directed edge between two node ids.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Graph is the node/link projection consumed by the visualisation.
type Graph struct {
	Nodes []Node      `json:"nodes"`
	Links []GraphLink `json:"links"`
}

// Graph builds the relationship view. Every link endpoint is guaranteed to
// appear in Nodes: endpoints missing from the requirements table get a
// placeholder node ("External/Block" for unknown targets, which are often
// SysML blocks rather than requirements, and "Requirement" for unknown
// sources). Node order is insertion order; link order is row order.
func (s *Store) Graph(ctx context.Context) (Graph, error) {
	if s == nil || s.db == nil {
		return Graph{}, ErrNotReady
	}

	nodeRows, err := s.db.QueryContext(ctx, `SELECT id, name, type, status FROM requirements`)
	if err != nil {
		return Graph{}, fmt.Errorf("%w: graph nodes: %v", ErrQuery, err)
	}
	defer nodeRows.Close()

	var order []string
	seen := make(map[string]Node)
	insert := func(node Node) {
		if _, ok := seen[node.ID]; ok {
			return
		}
		seen[node.ID] = node
		order = append(order, node.ID)
	}

	for nodeRows.Next() {
		var node Node
		if err := nodeRows.Scan(&node.ID, &node.Name, &node.Type, &node.Status); err != nil {
			return Graph{}, fmt.Errorf("%w: scan graph node: %v", ErrQuery, err)
		}
		insert(node)
	}
	if err := nodeRows.Err(); err != nil {
		return Graph{}, fmt.Errorf("%w: iterate graph nodes: %v", ErrQuery, err)
	}

	linkRows, err := s.db.QueryContext(ctx, `SELECT source_req_id, target_id, relationship_type FROM relationships`)
	if err != nil {
		return Graph{}, fmt.Errorf("%w: graph links: %v", ErrQuery, err)
	}
	defer linkRows.Close()

	links := make([]GraphLink, 0)
	for linkRows.Next() {
		var link GraphLink
		if err := linkRows.Scan(&link.Source, &link.Target, &link.Type); err != nil {
			return Graph{}, fmt.Errorf("%w: scan graph link: %v", ErrQuery, err)
		}
		links = append(links, link)
	}
	if err := linkRows.Err(); err != nil {
		return Graph{}, fmt.Errorf("%w: iterate graph links: %v", ErrQuery, err)
	}

	// Closure rule: no dangling edges.
	for _, link := range links {
		insert(Node{ID: link.Target, Name: link.Target, Type: "External/Block", Status: "N/A"})
		insert(Node{ID: link.Source, Name: link.Source, Type: "Requirement", Status: "N/A"})
	}

	nodes := make([]Node, 0, len(order))
	for _, id := range order {
		nodes = append(nodes, seen[id])
	}
	return Graph{Nodes: nodes, Links: links}, nil
}
