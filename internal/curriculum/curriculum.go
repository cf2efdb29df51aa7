package curriculum

import "errors"

// ErrComplete is returned once every model has worked through the full
// difficulty range. Callers must stop issuing new batches.
var ErrComplete = errors.New("curriculum complete")

// Level is the current position on the difficulty axis.
type Level struct {
	Target            int
	Budget            int
	ConsecutiveClears int
}

// Controller advances a single step-count difficulty axis.
//
// A clear (best progress >= target) increments the consecutive-clear
// counter; any non-clear resets it. Once the counter reaches the clear
// threshold the target grows by the configured increment and the counter
// resets. The target is allowed to step past the ceiling exactly once:
// that is the terminal signal, and the budget is always computed against
// the ceiling-clamped target.
type Controller struct {
	InitialTarget  int
	Increment      int
	MaxTarget      int
	ClearThreshold int
	Budget         BudgetCurve
}

// Start returns the level a fresh axis begins at.
func (c *Controller) Start() Level {
	return Level{Target: c.InitialTarget, Budget: c.Budget(c.InitialTarget)}
}

// Advance applies one batch outcome to the level. advanced is true when
// the target grew.
func (c *Controller) Advance(bestProgress int, lvl Level) (next Level, advanced bool) {
	next = lvl
	if bestProgress < lvl.Target {
		next.ConsecutiveClears = 0
		return next, false
	}

	next.ConsecutiveClears++
	if next.ConsecutiveClears < c.ClearThreshold {
		return next, false
	}

	next.Target += c.Increment
	next.ConsecutiveClears = 0
	next.Budget = c.Budget(next.Target)
	return next, true
}

// Done reports whether the axis has stepped past its ceiling.
func (c *Controller) Done(lvl Level) bool {
	return lvl.Target > c.MaxTarget
}

// Curriculum layers a model curriculum over the step axis: each model
// works through the full difficulty range, then the next model starts over
// at the initial target.
type Curriculum struct {
	Axis   *Controller
	Models []string
}

// Position is the full curriculum coordinate: which model, and where on
// the step axis.
type Position struct {
	ModelIndex int
	Level      Level
}

// Model returns the model identifier at the given position.
func (c *Curriculum) Model(pos Position) string {
	return c.Models[pos.ModelIndex]
}

// Start returns the initial position.
func (c *Curriculum) Start() Position {
	return Position{Level: c.Axis.Start()}
}

// Advance applies a batch outcome and rolls over to the next model when
// the current one finishes the axis. Returns ErrComplete once the last
// model is done.
func (c *Curriculum) Advance(bestProgress int, pos Position) (Position, bool, error) {
	lvl, advanced := c.Axis.Advance(bestProgress, pos.Level)
	pos.Level = lvl

	if !c.Axis.Done(lvl) {
		return pos, advanced, nil
	}

	if pos.ModelIndex+1 >= len(c.Models) {
		return pos, advanced, ErrComplete
	}
	pos.ModelIndex++
	pos.Level = c.Axis.Start()
	return pos, advanced, nil
}
