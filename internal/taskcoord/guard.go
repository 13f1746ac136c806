// ABOUTME: Pre-task admission check combining the circuit breaker and the claim table.
// ABOUTME: Explicit before-task hook; refusals carry a machine-parseable reason code plus detail.

package taskcoord

import "fmt"

// Reason codes returned by the guard. Machine-parseable; Detail carries
// the human explanation.
const (
	ReasonOK                = "OK"
	ReasonCircuitOpen       = "CIRCUIT_BREAKER_OPEN"
	ReasonInProgress        = "TASK_IN_PROGRESS"
	ReasonRecentlyCompleted = "TASK_RECENTLY_COMPLETED"
)

// Decision is the guard's verdict on a task.
type Decision struct {
	Allowed bool
	TaskID  string
	Reason  string
	Detail  string
}

// String renders the decision the way it is surfaced to users.
func (d Decision) String() string {
	if d.Allowed {
		return ReasonOK
	}
	return fmt.Sprintf("%s: %s", d.Reason, d.Detail)
}

// Circuit is the breaker surface the guard consults.
type Circuit interface {
	IsOpen() bool
	OpenReason() string
}

// Guard is the before-task hook: a task may start only if the circuit is
// closed, no live claim exists, and the task was not completed recently.
type Guard struct {
	circuit  Circuit
	coord    *Coordinator
	lookback int
}

// NewGuard creates a Guard. lookback <= 0 uses the coordinator's history
// capacity.
func NewGuard(circuit Circuit, coord *Coordinator, lookback int) *Guard {
	return &Guard{
		circuit:  circuit,
		coord:    coord,
		lookback: lookback,
	}
}

// Check evaluates whether a task described by description may start.
func (g *Guard) Check(description string) Decision {
	id := Hash(description)

	if g.circuit.IsOpen() {
		return Decision{
			TaskID: id,
			Reason: ReasonCircuitOpen,
			Detail: g.circuit.OpenReason(),
		}
	}

	if !g.coord.Available(id) {
		agent := "unknown"
		if claim, ok := g.coord.Active()[id]; ok {
			agent = claim.Agent
		}
		return Decision{
			TaskID: id,
			Reason: ReasonInProgress,
			Detail: fmt.Sprintf("already being worked on by %s", agent),
		}
	}

	if g.coord.RecentlyCompleted(id, g.lookback) {
		return Decision{
			TaskID: id,
			Reason: ReasonRecentlyCompleted,
			Detail: "task was completed recently",
		}
	}

	return Decision{Allowed: true, TaskID: id, Reason: ReasonOK}
}
