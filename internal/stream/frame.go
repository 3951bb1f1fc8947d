package stream

import (
	"time"

	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/tracker"
)

// Frame is one tick's snapshot pushed to every subscriber.
//
//	{"type":"frame","sim_time":"2026-02-06T04:00:00Z","jd":2461077.6667,"bodies":[...],"satellites":[...]}
type Frame struct {
	Type       string               `json:"type"`
	SimTime    time.Time            `json:"sim_time"`
	JD         float64              `json:"jd"`
	Bodies     []Body               `json:"bodies,omitempty"`
	Satellites []tracker.State      `json:"satellites,omitempty"`
	Tracked    int                  `json:"tracked,omitempty"`
	Trail      []tracker.TrailPoint `json:"trail,omitempty"`
}

// Body is a heliocentric state in a frame.
type Body struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	PositionAU [3]float64 `json:"position_au"`
	VelocityAU [3]float64 `json:"velocity_au_per_day"`
	Converged  bool       `json:"converged"`
}

// BodyFrom converts a cache state.
func BodyFrom(st ephemeris.State) Body {
	return Body{
		ID:         st.Body,
		Source:     string(st.Source),
		PositionAU: st.Position,
		VelocityAU: st.Velocity,
		Converged:  st.Converged,
	}
}

// Command is a message a subscriber may send.
//
//	{"type":"track","norad_id":25544}
type Command struct {
	Type    string `json:"type"`
	NORADID int    `json:"norad_id"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
