// Package events implements the value-typed simulation event variants and
// a subscriber fan-out publisher, using an isEvent() marker method to seal
// the Event interface to this package's types.
package events

import "qsim/internal/ids"

// Event is a marker for all simulation event variants.
type Event interface{ isEvent() }

// ActStart is emitted when an agent begins an activity.
type ActStart struct {
	Agent ids.AgentID
	Link  ids.LinkID
	Type  ids.ActivityTypeID
}

func (ActStart) isEvent() {}

// ActEnd is emitted when an agent's activity ends and it departs.
type ActEnd struct {
	Agent ids.AgentID
	Link  ids.LinkID
	Type  ids.ActivityTypeID
}

func (ActEnd) isEvent() {}

// Departure is emitted when an agent starts a leg.
type Departure struct {
	Agent ids.AgentID
	Link  ids.LinkID
	Mode  ids.ModeID
}

func (Departure) isEvent() {}

// Arrival is emitted when an agent finishes a leg.
type Arrival struct {
	Agent ids.AgentID
	Link  ids.LinkID
	Mode  ids.ModeID
}

func (Arrival) isEvent() {}

// Travelled is emitted when a teleported leg completes, carrying the
// distance travelled.
type Travelled struct {
	Agent    ids.AgentID
	Distance float64
}

func (Travelled) isEvent() {}

// PersonEntersVehicle is emitted when an agent boards a NETWORK-LoD
// vehicle.
type PersonEntersVehicle struct {
	Agent   ids.AgentID
	Vehicle ids.VehicleID
}

func (PersonEntersVehicle) isEvent() {}

// PersonLeavesVehicle is emitted when an agent's vehicle arrives and it
// disembarks.
type PersonLeavesVehicle struct {
	Agent   ids.AgentID
	Vehicle ids.VehicleID
}

func (PersonLeavesVehicle) isEvent() {}

// LinkEnter is emitted when a vehicle is pushed onto a link queue.
type LinkEnter struct {
	Link    ids.LinkID
	Vehicle ids.VehicleID
}

func (LinkEnter) isEvent() {}

// LinkLeave is emitted when a vehicle is popped off a link queue.
type LinkLeave struct {
	Link    ids.LinkID
	Vehicle ids.VehicleID
}

func (LinkLeave) isEvent() {}

// Generic carries any event not covered by a dedicated variant (e.g. a
// custom diagnostic emitted by a plan modifier), keyed by name with a
// free-form attribute map.
type Generic struct {
	Name  string
	Attrs map[string]string
}

func (Generic) isEvent() {}

// Subscriber receives events as they are published and is notified when
// the stream is finished, per §4.9's small capability interface and §9's
// dynamic-dispatch guidance.
type Subscriber interface {
	ReceiveEvent(now uint32, ev Event)
	Finish()
}

// Publisher fans out published events to every subscribed Subscriber.
type Publisher struct {
	subs []Subscriber
}

// NewPublisher returns a publisher with no subscribers.
func NewPublisher() *Publisher { return &Publisher{} }

// Subscribe registers s to receive all subsequently published events.
func (p *Publisher) Subscribe(s Subscriber) {
	p.subs = append(p.subs, s)
}

// Publish delivers ev, timestamped now, to every subscriber in registration
// order.
func (p *Publisher) Publish(now uint32, ev Event) {
	for _, s := range p.subs {
		s.ReceiveEvent(now, ev)
	}
}

// Finish flushes every subscriber, in registration order.
func (p *Publisher) Finish() {
	for _, s := range p.subs {
		s.Finish()
	}
}
