package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternIsIdempotentAndDense(t *testing.T) {
	r := NewRegistry[NodeKind]()

	a := r.Intern("node-a")
	b := r.Intern("node-b")
	aAgain := r.Intern("node-a")

	require.Equal(t, a, aAgain, "Intern of the same external must be stable")
	require.NotEqual(t, a, b, "distinct externals must not collide")
	require.Equal(t, 2, r.Len())
}

func TestExternalReversesIntern(t *testing.T) {
	r := NewRegistry[LinkKind]()
	id := r.Intern("link-7")
	require.Equal(t, "link-7", r.External(id))
}

func TestExternalPanicsOnUnknownID(t *testing.T) {
	r := NewRegistry[AgentKind]()
	require.Panics(t, func() { r.External(ID[AgentKind](42)) })
}

func TestLookupReportsMissing(t *testing.T) {
	r := NewRegistry[VehicleKind]()
	r.Intern("veh-1")

	_, ok := r.Lookup("veh-2")
	require.False(t, ok, "Lookup of an unseen external")

	id, ok := r.Lookup("veh-1")
	require.True(t, ok)
	require.Equal(t, "veh-1", r.External(id))
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := NewRegistry[ModeKind]()
	src.Intern("car")
	src.Intern("bus")
	src.Intern("walk")
	snap := src.Snapshot()

	dst := NewRegistry[ModeKind]()
	dst.LoadSnapshot(snap)

	require.Equal(t, src.Len(), dst.Len())
	for _, ext := range snap {
		srcID, _ := src.Lookup(ext)
		dstID, ok := dst.Lookup(ext)
		require.True(t, ok, "LoadSnapshot must preserve external %q", ext)
		require.Equal(t, srcID, dstID, "id for %q must match after snapshot round-trip", ext)
	}
}

func TestIDValid(t *testing.T) {
	var zero ID[NodeKind]
	require.True(t, zero.Valid(), "zero-valued ID should be valid; only Invalid constant should be invalid")

	invalid := ID[NodeKind](Invalid)
	require.False(t, invalid.Valid())
}
