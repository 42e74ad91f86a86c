package network

import (
	"testing"

	"github.com/stretchr/testify/require"

	"qsim/internal/ids"
)

func TestActivityEndAtPrecedence(t *testing.T) {
	explicit := uint32(100)
	dur := uint32(30)

	a := &Activity{EndTime: &explicit, MaxDuration: &dur}
	require.Equal(t, uint32(100), a.EndAt(10), "EndTime takes precedence over MaxDuration")

	b := &Activity{MaxDuration: &dur}
	require.Equal(t, uint32(40), b.EndAt(10), "now+MaxDuration when only MaxDuration is set")

	c := &Activity{}
	require.Equal(t, UndefinedTime, c.EndAt(10), "neither set")
}

func TestAgentCursorNavigation(t *testing.T) {
	act0 := &Activity{}
	leg := &Leg{}
	act1 := &Activity{}

	a := &Agent{
		Plan: Plan{Elems: []PlanElem{
			{Activity: act0},
			{Leg: leg},
			{Activity: act1},
		}},
	}

	_, ok := a.CurrentActivity()
	require.True(t, ok, "CurrentActivity at cursor 0")

	require.True(t, a.Advance(), "Advance from elem 0")
	_, ok = a.CurrentLeg()
	require.True(t, ok, "CurrentLeg at cursor 1")
	require.Same(t, act0, a.PreviousActivity())
	require.False(t, a.Done(), "cursor is on a leg")

	require.True(t, a.Advance(), "Advance from elem 1")
	require.True(t, a.Done(), "cursor is on the final activity")
	require.False(t, a.Advance(), "Advance past the end of the plan")
}

func TestVehicleNextLink(t *testing.T) {
	r := &NetworkRoute{Links: []ids.LinkID{10, 20, 30}}
	v := &Vehicle{RouteIndex: 1}

	require.Equal(t, ids.LinkID(20), v.CurrentLink(r))

	next, ok := v.NextLink(r)
	require.True(t, ok)
	require.Equal(t, ids.LinkID(30), next)

	v.RouteIndex = 2
	_, ok = v.NextLink(r)
	require.False(t, ok, "route complete at the last link")
}
