package models

// Prediction is the binary outcome of the decision rule.
type Prediction int

const (
	PredictionNegative Prediction = 0
	PredictionPositive Prediction = 1
)

// PredictInput carries the two optional inputs of /predict. When Value is set
// it decides; otherwise Text does, with a missing Text treated as "".
type PredictInput struct {
	Text  *string  `json:"text,omitempty"`
	Value *float64 `json:"value,omitempty"`
}

type PredictResult struct {
	Prediction Prediction `json:"prediction"`
}
