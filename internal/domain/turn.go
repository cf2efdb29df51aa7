package domain

// TurnStatus classifies a turn by its tool results.
type TurnStatus string

const (
	TurnOK   TurnStatus = "ok"
	TurnFail TurnStatus = "fail"
)

// ToolCall is one tool invocation recorded in a turn.
type ToolCall struct {
	Name  string
	Input string
}

// TurnRecord is one normalized turn from a trial transcript. Produced only
// by the trajectory parser; never mutated after creation.
type TurnRecord struct {
	Index     int
	Reasoning string
	ToolCalls []ToolCall
	Results   []string
	Errors    []string // subset of Results matching a failure marker
	Status    TurnStatus
}
