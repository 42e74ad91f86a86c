package transport

import "qsim/internal/ids"

// TeleportArrival is a remote hand-off for a TELEPORTED leg whose start and
// end links live on different partitions (spec S6): the origin partition
// parks the vehicle again and sends the leg's end link and travel time to
// the destination, which places the agent into its own teleportation queue
// on receipt.
type TeleportArrival struct {
	Agent      ids.AgentID
	Mode       ids.ModeID
	EndLink    ids.LinkID
	TravelTime uint32
	Distance   float64

	// Cursor is the owning agent's plan-cursor index for this leg; see
	// network.Vehicle.Cursor for why it rides along on the wire.
	Cursor int
}
