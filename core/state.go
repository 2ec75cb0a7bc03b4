package core

// TurnState tracks one conversational turn through the engine. Transitions
// are strictly sequential; no two stages run concurrently for one turn.
type TurnState int

const (
	TurnReceived TurnState = iota
	TurnSettingsResolved
	TurnMemoryQueried
	TurnPromptAssembled
	TurnModelInvoked
	TurnRetrying
	TurnResponsePosted
	TurnMemoryIngested
	TurnDone
	TurnFailed
)

var turnStateNames = map[TurnState]string{
	TurnReceived:         "received",
	TurnSettingsResolved: "settings_resolved",
	TurnMemoryQueried:    "memory_queried",
	TurnPromptAssembled:  "prompt_assembled",
	TurnModelInvoked:     "model_invoked",
	TurnRetrying:         "retrying",
	TurnResponsePosted:   "response_posted",
	TurnMemoryIngested:   "memory_ingested",
	TurnDone:             "done",
	TurnFailed:           "failed",
}

func (s TurnState) String() string {
	if name, ok := turnStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the state ends the turn.
func (s TurnState) Terminal() bool {
	return s == TurnDone || s == TurnFailed
}
