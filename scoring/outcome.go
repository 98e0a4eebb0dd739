package scoring

import (
	"encoding/json"
	"fmt"

	"github.com/padraicbc/gridpicks/models"
)

// Outcome is the state of a prediction against its event's result.
type Outcome int

const (
	Pending Outcome = iota
	Correct
	Incorrect
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "pending":
		*o = Pending
	case "correct":
		*o = Correct
	case "incorrect":
		*o = Incorrect
	default:
		return fmt.Errorf("unknown outcome %q", s)
	}
	return nil
}

// EvaluatePrediction compares a prediction with the event's result using
// exact, case-sensitive equality. A nil result is Pending; a nil prediction
// against a known result is Incorrect.
func EvaluatePrediction(p *models.Prediction, r *models.Result) Outcome {
	if r == nil {
		return Pending
	}
	if p == nil || p.Prediction != r.ActualResult {
		return Incorrect
	}
	return Correct
}

// ScoreGrandPrix sums the points of every event whose result matches the
// user's prediction. Events without a result contribute nothing.
func ScoreGrandPrix(events []models.Event, results []models.Result, predictions []models.Prediction) int {
	resultByEvent := make(map[string]*models.Result, len(results))
	for i := range results {
		resultByEvent[results[i].EventID] = &results[i]
	}
	predByEvent := make(map[string]*models.Prediction, len(predictions))
	for i := range predictions {
		predByEvent[predictions[i].EventID] = &predictions[i]
	}

	score := 0
	for _, ev := range events {
		p, ok := predByEvent[ev.ID]
		if !ok {
			continue
		}
		if EvaluatePrediction(p, resultByEvent[ev.ID]) == Correct {
			score += ev.Points
		}
	}
	return score
}
