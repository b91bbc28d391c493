package room

import "fmt"

// ControlMode records who is conducting the interview. The only legal
// transition is ModeAI to ModeHuman.
type ControlMode int

const (
	ModeAI ControlMode = iota
	ModeHuman
)

func (m ControlMode) String() string {
	switch m {
	case ModeAI:
		return "ai"
	case ModeHuman:
		return "human"
	}
	return fmt.Sprintf("ControlMode(%d)", int(m))
}

func (m ControlMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Transition returns the mode after attempting to move to next, and
// whether the move happened. Backward and repeated moves are refused.
func (m ControlMode) Transition(next ControlMode) (ControlMode, bool) {
	if m == ModeAI && next == ModeHuman {
		return ModeHuman, true
	}
	return m, false
}

// Panel is the auxiliary panel shown under the interviewer video.
type Panel string

const (
	PanelNone     Panel = ""
	PanelTerminal Panel = "terminal"
	PanelNotepad  Panel = "notepad"
)

// ParsePanel accepts "terminal", "notepad", and "" or "none" for no panel.
func ParsePanel(s string) (Panel, error) {
	switch s {
	case "", "none":
		return PanelNone, nil
	case string(PanelTerminal):
		return PanelTerminal, nil
	case string(PanelNotepad):
		return PanelNotepad, nil
	}
	return PanelNone, fmt.Errorf("unknown panel: %s", s)
}

// toggle closes p when it is already active, otherwise opens it.
func (p Panel) toggle(to Panel) Panel {
	if p == to {
		return PanelNone
	}
	return to
}
