// Package gesture turns per-frame hand gesture observations into canvas
// strokes and the lifecycle events clients use to track them.
package gesture

import (
	"github.com/virtualpainter/painter/internal/canvas"
)

// Label is a per-frame gesture classification
type Label string

// Gesture labels
const (
	Idle    Label = "idle"
	Drawing Label = "drawing"
	Erase   Label = "erase"
	Undo    Label = "undo"
)

// ParseLabel maps a classifier label to a Label. Unknown labels read as Idle.
func ParseLabel(s string) Label {
	switch Label(s) {
	case Drawing, Erase, Undo:
		return Label(s)
	default:
		return Idle
	}
}

func (l Label) stroking() bool {
	return l == Drawing || l == Erase
}

// EventType names a lifecycle event sent to the driving connection
type EventType string

// Lifecycle events
const (
	EventStart    EventType = "gesture_start"
	EventPoint    EventType = "gesture_point"
	EventComplete EventType = "gesture_complete"
	EventAction   EventType = "gesture_action"
)

// Event is one lifecycle event produced by a Step
type Event struct {
	Type     EventType
	Gesture  Label
	Point    canvas.Position
	Previous Label
	Action   string
}

// Canvas is the subset of canvas operations the machine drives
type Canvas interface {
	Draw(p canvas.Position) bool
	Erase(p canvas.Position)
	ResetAnchors()
	Undo() bool
}

// Result reports what one Step did
type Result struct {
	Events []Event
	// Rendered is set when the raster changed
	Rendered bool
	// Completed is set when a draw or erase stroke ended
	Completed bool
}

// Machine is the per-session gesture state. It is not safe for concurrent
// use; the owning session serializes Step calls.
type Machine struct {
	previous Label
}

// NewMachine returns a machine in the Idle state
func NewMachine() *Machine {
	return &Machine{previous: Idle}
}

// Previous returns the label of the last applied observation
func (m *Machine) Previous() Label {
	return m.previous
}

// Step applies one observation to c. Observations without a detected hand,
// and stroking labels without the positions they need, change nothing.
func (m *Machine) Step(c Canvas, obs Observation) Result {
	var res Result
	if !obs.Detected {
		return res
	}

	label := obs.Label
	transition := label != m.previous

	switch label {
	case Drawing:
		if obs.Index == nil {
			return res
		}
		p := *obs.Index
		if transition {
			c.ResetAnchors()
			res.Events = append(res.Events, Event{Type: EventStart, Gesture: Drawing})
		}
		res.Rendered = c.Draw(p)
		res.Events = append(res.Events, Event{Type: EventPoint, Gesture: Drawing, Point: p})

	case Erase:
		p, ok := obs.erasePosition()
		if !ok {
			return res
		}
		if transition {
			c.ResetAnchors()
			res.Events = append(res.Events, Event{Type: EventStart, Gesture: Erase})
		}
		c.Erase(p)
		res.Rendered = true
		res.Events = append(res.Events, Event{Type: EventPoint, Gesture: Erase, Point: p})

	case Undo:
		if m.previous.stroking() {
			res.Events = append(res.Events, Event{Type: EventComplete, Previous: m.previous})
			res.Completed = true
		}
		if transition {
			res.Rendered = c.Undo()
			res.Events = append(res.Events, Event{Type: EventAction, Action: string(Undo)})
		}
		c.ResetAnchors()

	default:
		if m.previous.stroking() {
			res.Events = append(res.Events, Event{Type: EventComplete, Previous: m.previous})
			res.Completed = true
		}
		c.ResetAnchors()
		label = Idle
	}

	m.previous = label
	return res
}
