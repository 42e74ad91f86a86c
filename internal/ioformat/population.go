package ioformat

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"qsim/internal/ids"
	"qsim/internal/network"
)

// xmlPopulation mirrors MATSim's <population><person><plan>... shape:
// activity/leg alternation, with an optional end-time or max-duration on
// each activity.
type xmlPopulation struct {
	XMLName xml.Name `xml:"population"`
	Persons []struct {
		ID   string `xml:"id,attr"`
		Plan struct {
			Elems []struct {
				XMLName     xml.Name
				Type        string  `xml:"type,attr"`
				Link        string  `xml:"link,attr"`
				X           float64 `xml:"x,attr"`
				Y           float64 `xml:"y,attr"`
				EndTime     string  `xml:"end_time,attr"`
				MaxDuration string  `xml:"max_dur,attr"`
				Mode        string  `xml:"mode,attr"`
				StartLink   string  `xml:"start_link,attr"`
				EndLink     string  `xml:"end_link,attr"`
				TravelTime  uint32  `xml:"trav_time,attr"`
				Distance    float64 `xml:"distance,attr"`
				VehicleID   string  `xml:"vehicle,attr"`
				Links       string  `xml:"links,attr"` // space-separated link ids, NETWORK routes only
			} `xml:",any"`
		} `xml:"plan"`
	} `xml:"person"`
}

// LoadPopulation reads agents and their plans from r, interning every
// agent, mode, activity-type, and (for NETWORK legs) vehicle id into reg.
// Each activity's end_time and max_dur attributes are read; a start_time
// attribute is not read, so Activity.StartTime is always left nil.
func LoadPopulation(r io.Reader, reg *Registries) (map[ids.AgentID]*network.Agent, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "ioformat: read population")
	}
	var raw xmlPopulation
	if err := xml.Unmarshal(buf, &raw); err != nil {
		return nil, errors.Wrap(err, "ioformat: decode population xml")
	}

	agents := make(map[ids.AgentID]*network.Agent, len(raw.Persons))
	for _, p := range raw.Persons {
		agentID := reg.Agents.Intern(p.ID)
		plan := network.Plan{}
		for _, e := range p.Elems {
			switch e.XMLName.Local {
			case "activity":
				act := &network.Activity{
					Type: reg.ActivityTypes.Intern(e.Type),
					Link: reg.Links.Intern(e.Link),
				}
				if e.X != 0 || e.Y != 0 {
					c := network.Coord{X: e.X, Y: e.Y}
					act.Coord = &c
				}
				if t, ok := parseSeconds(e.EndTime); ok {
					act.EndTime = &t
				}
				if d, ok := parseSeconds(e.MaxDuration); ok {
					act.MaxDuration = &d
				}
				plan.Elems = append(plan.Elems, network.PlanElem{Activity: act})
			case "leg":
				leg := &network.Leg{Mode: reg.Modes.Intern(e.Mode)}
				if e.Links != "" {
					var linkIDs []ids.LinkID
					for _, tok := range strings.Fields(e.Links) {
						linkIDs = append(linkIDs, reg.Links.Intern(tok))
					}
					leg.Route.Network = &network.NetworkRoute{
						Vehicle: reg.Vehicles.Intern(e.VehicleID),
						Links:   linkIDs,
						Distance: e.Distance,
					}
				} else {
					leg.Route.Generic = &network.GenericRoute{
						StartLink:  reg.Links.Intern(e.StartLink),
						EndLink:    reg.Links.Intern(e.EndLink),
						TravelTime: e.TravelTime,
						Distance:   e.Distance,
					}
				}
				plan.Elems = append(plan.Elems, network.PlanElem{Leg: leg})
			}
		}
		if len(plan.Elems) == 0 {
			return nil, errors.Errorf("ioformat: agent %q has an empty plan", p.ID)
		}
		agents[agentID] = &network.Agent{ID: agentID, Plan: plan, Cursor: 0}
	}
	return agents, nil
}

// parseSeconds parses a plain integer seconds attribute. An empty string
// means the attribute was absent.
func parseSeconds(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
