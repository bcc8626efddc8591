package payment

import (
	"fmt"
	"strings"

	"github.com/pledgeflow/payments/internal/model"
)

// TransitionCode classifies a transition verdict.
type TransitionCode string

const (
	// TransitionForward is an allowed edge of the lifecycle.
	TransitionForward TransitionCode = "forward"
	// TransitionIdempotent means the payment is already in the target state.
	TransitionIdempotent TransitionCode = "idempotent"
	// TransitionTerminal means the source state accepts no further transitions.
	TransitionTerminal TransitionCode = "terminal"
	// TransitionBackward means the target precedes the source (out-of-order delivery).
	TransitionBackward TransitionCode = "backward"
	// TransitionSkip means the target is ahead but skips a required state.
	TransitionSkip TransitionCode = "skip"
	// TransitionUnknown means one of the states is not part of the lifecycle.
	TransitionUnknown TransitionCode = "unknown"
)

// TransitionResult is the verdict of CanTransition. A denied transition is a
// value, not an error: out-of-order delivery makes it a routine outcome.
type TransitionResult struct {
	Allowed bool               `json:"allowed"`
	From    model.PaymentState `json:"from_state"`
	To      model.PaymentState `json:"to_state"`
	Code    TransitionCode     `json:"code"`
	Reason  string             `json:"reason"`
}

// StateInfo describes one node of the transition graph.
type StateInfo struct {
	State      model.PaymentState   `json:"state"`
	NextStates []model.PaymentState `json:"next_states"`
	Terminal   bool                 `json:"terminal"`
}

var validTransitions = map[model.PaymentState][]model.PaymentState{
	model.PaymentStatePending:    {model.PaymentStateAuthorized, model.PaymentStateFailed},
	model.PaymentStateAuthorized: {model.PaymentStateCaptured, model.PaymentStateFailed},
	model.PaymentStateCaptured:   {model.PaymentStateCompleted, model.PaymentStateFailed},
	model.PaymentStateCompleted:  {model.PaymentStateRefunded},
	model.PaymentStateFailed:     {},
	model.PaymentStateRefunded:   {},
}

// FAILED has no rank: it is reachable from every non-terminal state.
var stateRank = map[model.PaymentState]int{
	model.PaymentStatePending:    0,
	model.PaymentStateAuthorized: 1,
	model.PaymentStateCaptured:   2,
	model.PaymentStateCompleted:  3,
	model.PaymentStateRefunded:   4,
}

// CanTransition decides whether a payment in state from may move to state to.
// It is pure and total.
func CanTransition(from, to model.PaymentState) TransitionResult {
	res := TransitionResult{From: from, To: to}

	if !from.IsValid() || !to.IsValid() {
		res.Code = TransitionUnknown
		res.Reason = fmt.Sprintf("invalid transition: unknown state %s -> %s", from, to)
		return res
	}

	if from == to {
		res.Allowed = true
		res.Code = TransitionIdempotent
		res.Reason = fmt.Sprintf("idempotent: already in state %s", from)
		return res
	}

	if IsTerminal(from) {
		exit, ok := terminalExits[from]
		if !ok {
			res.Code = TransitionTerminal
			res.Reason = fmt.Sprintf("cannot transition from terminal state %s", from)
			return res
		}
		if to != exit {
			res.Code = TransitionTerminal
			res.Reason = fmt.Sprintf("cannot transition from terminal state %s except to %s", from, exit)
			return res
		}
	}

	for _, next := range validTransitions[from] {
		if next == to {
			res.Allowed = true
			res.Code = TransitionForward
			res.Reason = fmt.Sprintf("valid transition %s -> %s", from, to)
			return res
		}
	}

	if to != model.PaymentStateFailed && stateRank[to] < stateRank[from] {
		res.Code = TransitionBackward
		res.Reason = fmt.Sprintf("backward transition %s -> %s rejected: out-of-order delivery", from, to)
		return res
	}

	res.Code = TransitionSkip
	res.Reason = fmt.Sprintf("invalid transition %s -> %s: skips required intermediate state; valid next states: %s",
		from, to, joinStates(validTransitions[from]))
	return res
}

// COMPLETED is terminal for the payment flow; a refund is its one exit.
var terminalExits = map[model.PaymentState]model.PaymentState{
	model.PaymentStateCompleted: model.PaymentStateRefunded,
}

// IsTerminal reports whether a payment in s has finished its flow.
// NextStates lists the exit a terminal state still allows, if any.
func IsTerminal(s model.PaymentState) bool {
	switch s {
	case model.PaymentStateCompleted, model.PaymentStateFailed, model.PaymentStateRefunded:
		return true
	}
	return false
}

// NextStates returns the states directly reachable from s.
func NextStates(s model.PaymentState) []model.PaymentState {
	next := validTransitions[s]
	out := make([]model.PaymentState, len(next))
	copy(out, next)
	return out
}

// TransitionGraph returns every state with its valid next states, for
// administrative tooling that renders the lifecycle.
func TransitionGraph() []StateInfo {
	graph := make([]StateInfo, 0, len(model.AllPaymentStates))
	for _, s := range model.AllPaymentStates {
		graph = append(graph, StateInfo{
			State:      s,
			NextStates: NextStates(s),
			Terminal:   IsTerminal(s),
		})
	}
	return graph
}

func joinStates(states []model.PaymentState) string {
	if len(states) == 0 {
		return "none"
	}
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
