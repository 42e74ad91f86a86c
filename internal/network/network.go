// Package network holds the read-only-after-load global network: nodes,
// links, vehicle types, agents, and plans.
package network

import "qsim/internal/ids"

// Coord is a planar coordinate pair.
type Coord struct {
	X, Y float64
}

// Node is a junction in the road network. InLinks and OutLinks are stored as
// slices of link ids rather than pointers, per §9's guidance to express the
// node/link cyclic graph as two parallel id-indexed tables instead of owning
// pointers in both directions.
type Node struct {
	ID        ids.NodeID
	Coord     Coord
	Partition uint32
	InLinks   []ids.LinkID
	OutLinks  []ids.LinkID
}

// Link is a directed road segment between two nodes. Partition is always
// the partition of ToNode, per spec.
type Link struct {
	ID              ids.LinkID
	From, To        ids.NodeID
	Length          float64
	Freespeed       float64
	CapacityPerHour float64
	Lanes           float64
	Modes           map[ids.ModeID]struct{}
	Partition       uint32
}

// AllowsMode reports whether mode may travel this link.
func (l *Link) AllowsMode(mode ids.ModeID) bool {
	_, ok := l.Modes[mode]
	return ok
}

// LevelOfDetail distinguishes vehicle types routed through the link network
// from those that are teleported (travel-time only, never touch a queue).
type LevelOfDetail int

const (
	Network LevelOfDetail = iota
	Teleported
)

// VehicleType is the physical/behavioral profile shared by many vehicles.
type VehicleType struct {
	ID                 ids.VehicleTypeID
	Length, Width      float64
	MaxSpeed           float64
	PCE                float64
	FlowEfficiency     float64
	NetworkMode        ids.ModeID
	LevelOfDetail      LevelOfDetail
}

// Network is the global, read-only-after-load set of nodes and links,
// indexed densely by internal id.
type Network struct {
	Nodes []Node
	Links []Link
}

// NewNetwork returns an empty network sized for nNodes/nLinks ids.
func NewNetwork(nNodes, nLinks int) *Network {
	return &Network{
		Nodes: make([]Node, nNodes),
		Links: make([]Link, nLinks),
	}
}

func (n *Network) Node(id ids.NodeID) *Node { return &n.Nodes[id] }
func (n *Network) Link(id ids.LinkID) *Link { return &n.Links[id] }

// Route is either a NetworkRoute (a concrete sequence of links driven by a
// vehicle) or a GenericRoute (a travel-time/distance summary used by
// teleported legs). Exactly one of the two pointer fields is non-nil.
type Route struct {
	Network *NetworkRoute
	Generic *GenericRoute
}

// NetworkRoute is an ordered sequence of link ids a NETWORK-LoD vehicle
// drives, plus the vehicle carrying it and the route's total distance.
type NetworkRoute struct {
	Vehicle  ids.VehicleID
	Links    []ids.LinkID
	Distance float64
}

// StartLink and EndLink are always Links[0] and Links[len-1].
func (r *NetworkRoute) StartLink() ids.LinkID { return r.Links[0] }
func (r *NetworkRoute) EndLink() ids.LinkID   { return r.Links[len(r.Links)-1] }

// GenericRoute summarizes a TELEPORTED leg: no intermediate links, just
// start/end and a travel time.
type GenericRoute struct {
	StartLink    ids.LinkID
	EndLink      ids.LinkID
	TravelTime   uint32
	Distance     float64
}

// Leg is one journey segment of an agent's plan.
type Leg struct {
	Mode  ids.ModeID
	Route Route
}

// UndefinedTime is the "never ends" sentinel for activity end-times (§6).
const UndefinedTime uint32 = ^uint32(0)

// Activity is one stay segment of an agent's plan.
type Activity struct {
	Type       ids.ActivityTypeID
	Link       ids.LinkID
	Coord      *Coord
	StartTime  *uint32
	EndTime    *uint32
	MaxDuration *uint32
}

// EndAt computes the bit-exact activity end-time rule from §6: explicit
// end-time if set; else now+max-duration if set; else UndefinedTime.
func (a *Activity) EndAt(now uint32) uint32 {
	if a.EndTime != nil {
		return *a.EndTime
	}
	if a.MaxDuration != nil {
		return now + *a.MaxDuration
	}
	return UndefinedTime
}

// PlanElem is one element of an agent's plan: exactly one of Activity or Leg
// is non-nil. Plans alternate Activity, Leg, Activity, ..., Activity.
type PlanElem struct {
	Activity *Activity
	Leg      *Leg
}

// Plan is the ordered sequence of activities and legs an agent follows.
type Plan struct {
	Elems []PlanElem
}

// Agent is a simulated traveler: an identity, a plan, and a cursor into it.
type Agent struct {
	ID     ids.AgentID
	Plan   Plan
	Cursor int
}

// CurrentActivity returns the activity the cursor currently rests on, and
// false if the cursor is on a leg.
func (a *Agent) CurrentActivity() (*Activity, bool) {
	e := a.Plan.Elems[a.Cursor]
	return e.Activity, e.Activity != nil
}

// CurrentLeg returns the leg the cursor currently rests on, and false if the
// cursor is on an activity.
func (a *Agent) CurrentLeg() (*Leg, bool) {
	e := a.Plan.Elems[a.Cursor]
	return e.Leg, e.Leg != nil
}

// PreviousActivity returns the most recently completed activity, i.e. the
// element just before a leg cursor. Valid to call only while the
// cursor sits on a leg.
func (a *Agent) PreviousActivity() *Activity {
	return a.Plan.Elems[a.Cursor-1].Activity
}

// Advance moves the cursor one element forward. Returns false if the plan is
// already exhausted.
func (a *Agent) Advance() bool {
	if a.Cursor+1 >= len(a.Plan.Elems) {
		return false
	}
	a.Cursor++
	return true
}

// Done reports whether the agent's plan is exhausted (cursor on the final
// activity, which per spec is always an activity).
func (a *Agent) Done() bool {
	return a.Cursor == len(a.Plan.Elems)-1
}

// Vehicle is an in-flight vehicle: owned by exactly one link queue, one
// time-queue, one pending outbound message, or the garage (never two at
// once, per spec's invariant).
type Vehicle struct {
	ID         ids.VehicleID
	Type       ids.VehicleTypeID
	PCE        float64
	MaxV       float64
	RouteIndex int
	Agent      ids.AgentID

	// Cursor is the owning agent's plan-cursor index for the leg this
	// vehicle carries, fixed for the vehicle's whole lifetime. It rides
	// along in cross-partition messages so a receiving partition, which
	// may hold an independently-loaded copy of the agent rather than the
	// sender's in-memory one, can re-synchronize agent.Cursor before
	// resuming the agent's plan on arrival.
	Cursor int
}

// CurrentLink returns the link id the vehicle currently occupies, given its
// route.
func (v *Vehicle) CurrentLink(r *NetworkRoute) ids.LinkID {
	return r.Links[v.RouteIndex]
}

// NextLink returns the link id after the current one on r, and false if the
// vehicle is at the route's last link (route complete).
func (v *Vehicle) NextLink(r *NetworkRoute) (ids.LinkID, bool) {
	if v.RouteIndex+1 >= len(r.Links) {
		return 0, false
	}
	return r.Links[v.RouteIndex+1], true
}
