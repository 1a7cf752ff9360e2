package scoring

import (
	"fmt"

	"competition-engine/models"
)

var transitions = map[models.CompetitionState][]models.CompetitionState{
	models.StateDraft:  {models.StateActive},
	models.StateActive: {models.StatePaused, models.StateFinalized},
	models.StatePaused: {models.StateActive, models.StateFinalized},
}

func CanTransition(from, to models.CompetitionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates a lifecycle move. Finalized has no outgoing edges.
func Transition(from, to models.CompetitionState) error {
	if CanTransition(from, to) {
		return nil
	}
	if from == models.StateFinalized {
		return WithMetadata(CodeCompetitionFrozen, "competition is finalized", map[string]string{"to": string(to)})
	}
	return WithMetadata(CodeInvalidStateTransition,
		fmt.Sprintf("cannot move competition from %s to %s", from, to),
		map[string]string{"from": string(from), "to": string(to)})
}

// Activatable checks the preconditions for draft -> active.
func Activatable(c *models.Competition) error {
	if err := Transition(c.State, models.StateActive); err != nil {
		return err
	}
	report := Validate(c.Rules, c.Theme, c.Prizes)
	errs := append(report.Errors, ValidateSchedule(c.StartTime, c.EndTime, c.Timezone)...)
	if len(errs) > 0 {
		return &Error{
			Code:     CodeValidationFailed,
			Message:  fmt.Sprintf("competition cannot be activated: %s", errs[0].Msg),
			Metadata: map[string]string{"loc": errs[0].Loc},
		}
	}
	return nil
}
