// Package replan provides an ad-hoc "plan modifier" hook: a concrete
// Router interface and a default Dijkstra implementation over a
// forward/backward link-weighted graph.
package replan

import (
	"container/heap"
	"fmt"

	"qsim/internal/ids"
	"qsim/internal/network"
)

// Router computes a NetworkRoute from one link to another for a given
// mode, as of the current simulated time.
type Router interface {
	Route(from, to ids.LinkID, mode ids.ModeID, now uint32) (*network.NetworkRoute, error)
}

// Modifier is invoked once per woken agent, before its activity-end event
// is published (§4.8 step 1's "optionally invoke the plan modifier").
type Modifier interface {
	Modify(agent *network.Agent, now uint32)
}

// edgeWeight returns a link's traversal time in whole seconds for mode.
type edgeWeight func(link *network.Link, mode ids.ModeID) uint32

// DefaultEdgeWeight uses the link's freespeed for every mode.
func DefaultEdgeWeight(link *network.Link, mode ids.ModeID) uint32 {
	if link.Freespeed <= 0 {
		return 1
	}
	t := uint32(link.Length / link.Freespeed)
	if t < 1 {
		t = 1
	}
	return t
}

// DijkstraRouter computes shortest-travel-time routes over a Network using
// a binary-heap Dijkstra search, rebuilding its adjacency once from the
// network and reusing it for every query.
type DijkstraRouter struct {
	net    *network.Network
	weight edgeWeight
	out    map[ids.NodeID][]ids.LinkID
}

// NewDijkstraRouter builds a router over net using weight to cost each
// link; pass DefaultEdgeWeight for the standard freespeed-based cost.
func NewDijkstraRouter(net *network.Network, weight edgeWeight) *DijkstraRouter {
	out := make(map[ids.NodeID][]ids.LinkID, len(net.Nodes))
	for i := range net.Nodes {
		n := &net.Nodes[i]
		out[ids.NodeID(i)] = n.OutLinks
	}
	return &DijkstraRouter{net: net, weight: weight, out: out}
}

type dijkstraItem struct {
	node ids.NodeID
	dist uint32
}

type dijkstraHeap []dijkstraItem

func (h dijkstraHeap) Len() int            { return len(h) }
func (h dijkstraHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h dijkstraHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dijkstraHeap) Push(x any)         { *h = append(*h, x.(dijkstraItem)) }
func (h *dijkstraHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Route finds the minimum-travel-time path from the to-node of "from" to
// the from-node of "to" and returns it as a NetworkRoute (distance summed
// from link lengths). Returns an error if no path exists.
func (r *DijkstraRouter) Route(from, to ids.LinkID, mode ids.ModeID, now uint32) (*network.NetworkRoute, error) {
	startNode := r.net.Link(from).To
	goalNode := r.net.Link(to).From

	dist := make(map[ids.NodeID]uint32, len(r.net.Nodes))
	haveDist := make(map[ids.NodeID]bool, len(r.net.Nodes))
	prevLink := make(map[ids.NodeID]ids.LinkID)
	prevNode := make(map[ids.NodeID]ids.NodeID)
	visited := make(map[ids.NodeID]bool)

	dist[startNode] = 0
	haveDist[startNode] = true
	h := &dijkstraHeap{{node: startNode, dist: 0}}

	for h.Len() > 0 {
		cur := heap.Pop(h).(dijkstraItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true
		if cur.node == goalNode {
			break
		}

		for _, linkID := range r.out[cur.node] {
			link := r.net.Link(linkID)
			if !link.AllowsMode(mode) {
				continue
			}
			nd := dist[cur.node] + r.weight(link, mode)
			if existing, ok := haveDist[link.To]; !ok || nd < dist[link.To] {
				_ = existing
				dist[link.To] = nd
				haveDist[link.To] = true
				prevLink[link.To] = linkID
				prevNode[link.To] = cur.node
				heap.Push(h, dijkstraItem{node: link.To, dist: nd})
			}
		}
	}

	if !visited[goalNode] && goalNode != startNode {
		return nil, fmt.Errorf("replan: no path from link %d to link %d for mode %d", from, to, mode)
	}

	var links []ids.LinkID
	links = append(links, to)
	node := goalNode
	for node != startNode {
		l, ok := prevLink[node]
		if !ok {
			return nil, fmt.Errorf("replan: no path from link %d to link %d for mode %d", from, to, mode)
		}
		links = append([]ids.LinkID{l}, links...)
		node = prevNode[node]
	}
	links = append([]ids.LinkID{from}, links...)
	// from may duplicate the first discovered link when from==to's tail;
	// dedupe the case where startNode==goalNode and from already equals to.
	if len(links) > 1 && links[0] == links[1] {
		links = links[1:]
	}

	var distance float64
	for _, l := range links {
		distance += r.net.Link(l).Length
	}

	return &network.NetworkRoute{Links: links, Distance: distance}, nil
}

// AdHocModifier replans the leg immediately following an agent's current
// activity using Router, invoked when the CLI's routing mode is "ad-hoc"
// (§6). Legs without a NetworkRoute (teleported) are left untouched.
type AdHocModifier struct {
	Router Router
}

// Modify recomputes agent's upcoming leg's route in place, if it is a
// NETWORK-routed leg.
func (m *AdHocModifier) Modify(agent *network.Agent, now uint32) {
	nextIdx := agent.Cursor + 1
	if nextIdx >= len(agent.Plan.Elems) {
		return
	}
	leg := agent.Plan.Elems[nextIdx].Leg
	if leg == nil || leg.Route.Network == nil {
		return
	}
	start := leg.Route.Network.StartLink()
	end := leg.Route.Network.EndLink()
	route, err := m.Router.Route(start, end, leg.Mode, now)
	if err != nil {
		return
	}
	route.Vehicle = leg.Route.Network.Vehicle
	leg.Route.Network = route
}
