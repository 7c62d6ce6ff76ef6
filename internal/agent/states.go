// Package agent holds the session state machine that drives one
// active-interaction run, the decision cascade that routes each step to
// the cheapest capable tier, and the stuck detector that escalates when
// nothing is making progress.
package agent

import "github.com/vexlabs-io/lurehound/api/schemas"

// stateTransitions lists the normal forward edges. Terminal states are
// reachable from anywhere (human skip, fatal error, completion) and are
// not repeated here.
var stateTransitions = map[schemas.SessionState][]schemas.SessionState{
	schemas.StateInit:         {schemas.StateLoadSite},
	schemas.StateLoadSite:     {schemas.StateFindRegister},
	schemas.StateFindRegister: {schemas.StateFillRegister, schemas.StateNavDeposit},
	schemas.StateFillRegister: {schemas.StateSubmitReg},
	schemas.StateSubmitReg:    {schemas.StateCheckEmail, schemas.StateNavDeposit},
	schemas.StateCheckEmail:   {schemas.StateNavDeposit},
	schemas.StateNavDeposit:   {schemas.StateExtractWallet},
	schemas.StateExtractWallet: {
		schemas.StateComplete,
	},
}

var terminalStates = map[schemas.SessionState]bool{
	schemas.StateComplete:     true,
	schemas.StateSkipped:      true,
	schemas.StateManualReview: true,
	schemas.StateFailed:       true,
}

// milestoneStates capture a labeled screenshot reference on first entry.
var milestoneStates = map[schemas.SessionState]bool{
	schemas.StateLoadSite:      true,
	schemas.StateFindRegister:  true,
	schemas.StateFillRegister:  true,
	schemas.StateNavDeposit:    true,
	schemas.StateExtractWallet: true,
}

// IsTerminal reports whether the state ends the session.
func IsTerminal(s schemas.SessionState) bool { return terminalStates[s] }

// LegalTransition reports whether from→to is a normal forward edge or a
// jump to a terminal state.
func LegalTransition(from, to schemas.SessionState) bool {
	if terminalStates[to] {
		return true
	}
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
