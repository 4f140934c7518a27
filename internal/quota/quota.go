// package quota is the single pricing table for metered actions.
// entry actions that only produce content for the user are free; actions that
// consume the model's evaluative judgement cost one credit per unit evaluated.
package quota

import (
	"errors"
	"fmt"
)

// names a metered action
type Action string

const (
	ActionGenerateQuestion      Action = "generate_question"
	ActionGenerateInterviewFlow Action = "generate_interview_flow"
	ActionAnalyzeAnswer         Action = "analyze_answer"
	ActionScoreCV               Action = "score_cv"
	ActionBatchEvaluate         Action = "batch_evaluate"
	ActionEvaluateApplicant     Action = "evaluate_applicant"

	// evaluates a whole interview flow; this is what "completed an interview" means
	ActionCompleteInterview Action = "complete_interview"
)

const (
	// cost charged for anything not in the table
	DefaultCost int64 = 1

	// upper bound on items in one batch evaluation
	MaxBatchItems = 50
)

// rejected before any ledger access (unknown action, malformed payload)
var ErrPolicy = errors.New("policy error")

// describes why a request was refused by the policy
type PolicyError struct {
	Action Action
	Reason string
}

func (e *PolicyError) Error() string {
	if e.Action == "" {
		return e.Reason
	}

	return fmt.Sprintf("%s: %s", e.Action, e.Reason)
}

func (e *PolicyError) Is(target error) bool {
	return target == ErrPolicy
}

type price struct {
	unit    int64
	perItem bool
}

var table = map[Action]price{
	ActionGenerateQuestion:      {unit: 0},
	ActionGenerateInterviewFlow: {unit: 0},
	ActionAnalyzeAnswer:         {unit: 1},
	ActionScoreCV:               {unit: 1},
	ActionEvaluateApplicant:     {unit: 1},
	ActionCompleteInterview:     {unit: 1},
	ActionBatchEvaluate:         {unit: 1, perItem: true},
}

// returns the credit cost of an action. units is the item count for batch
// actions and ignored otherwise. unknown actions fail closed at DefaultCost.
func Cost(action Action, units int) (int64, error) {
	p, ok := table[action]
	if !ok {
		return DefaultCost, nil
	}

	if !p.perItem {
		return p.unit, nil
	}

	if units < 1 || units > MaxBatchItems {
		return 0, &PolicyError{
			Action: action,
			Reason: fmt.Sprintf("batch size must be between 1 and %d, got %d", MaxBatchItems, units),
		}
	}

	return p.unit * int64(units), nil
}

// reports whether the action is in the pricing table
func Known(action Action) bool {
	_, ok := table[action]
	return ok
}

// validates an action name coming from a request
func Parse(name string) (Action, error) {
	a := Action(name)
	if !Known(a) {
		return "", &PolicyError{Action: a, Reason: "unknown action"}
	}

	return a, nil
}

// reports whether the action completes an interview flow
func IsInterviewFlow(action Action) bool {
	return action == ActionCompleteInterview
}

// returns every priced action (for the credits view)
func Actions() []Action {
	return []Action{
		ActionGenerateQuestion,
		ActionGenerateInterviewFlow,
		ActionAnalyzeAnswer,
		ActionScoreCV,
		ActionBatchEvaluate,
		ActionEvaluateApplicant,
		ActionCompleteInterview,
	}
}
