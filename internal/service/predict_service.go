package service

import (
	"strings"

	"predictapi/internal/models"

	"github.com/rs/zerolog"
)

// PositiveKeywords mark a text input as positive when any appears as a
// case-insensitive substring.
var PositiveKeywords = []string{"good", "great", "excellent"}

// PredictService applies a fixed, stateless decision rule. It is safe for
// concurrent use.
type PredictService struct {
	logger   *zerolog.Logger
	keywords []string
}

func NewPredictService(logger *zerolog.Logger) *PredictService {
	return &PredictService{
		logger:   logger,
		keywords: PositiveKeywords,
	}
}

func (s *PredictService) Predict(in models.PredictInput) models.Prediction {
	if in.Value != nil {
		pred := predictValue(*in.Value)
		s.logger.Debug().Float64("value", *in.Value).Int("prediction", int(pred)).Msg("predict by value")
		return pred
	}

	var text string
	if in.Text != nil {
		text = *in.Text
	}
	pred := s.predictText(text)
	s.logger.Debug().Int("text_len", len(text)).Int("prediction", int(pred)).Msg("predict by text")
	return pred
}

func predictValue(v float64) models.Prediction {
	if v >= 0 {
		return models.PredictionPositive
	}
	return models.PredictionNegative
}

func (s *PredictService) predictText(text string) models.Prediction {
	lowered := strings.ToLower(text)
	for _, k := range s.keywords {
		if strings.Contains(lowered, k) {
			return models.PredictionPositive
		}
	}
	return models.PredictionNegative
}
