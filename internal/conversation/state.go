package conversation

// TurnState is the phase a turn is in.
type TurnState int

const (
	StateAwaitingModel TurnState = iota
	StateStreaming
	StateDispatchingFunction
	StateFollowUpModelCall
	StateDone
)

func (s TurnState) String() string {
	switch s {
	case StateAwaitingModel:
		return "AWAITING_MODEL"
	case StateStreaming:
		return "STREAMING"
	case StateDispatchingFunction:
		return "DISPATCHING_FUNCTION"
	case StateFollowUpModelCall:
		return "FOLLOW_UP_MODEL_CALL"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}
