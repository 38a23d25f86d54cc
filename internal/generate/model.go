package generate

import (
	"context"
	"time"
)

// TestingReply is the canned answer of TestingModel.
const TestingReply = "Test reply"

// Prediction is the answer to one Predict call.
type Prediction struct {
	Text    string
	Elapsed time.Duration
}

// Model answers a single prompt.
//
// *Session is the engine-backed implementation; TestingModel returns a fixed
// reply and needs no model assets.
type Model interface {
	Predict(ctx context.Context, input string) (Prediction, error)
}

// TestingModel is a Model returning a fixed reply.
type TestingModel struct {
	Reply string
}

// NewTestingModel returns a TestingModel answering TestingReply.
func NewTestingModel() *TestingModel {
	return &TestingModel{Reply: TestingReply}
}

// Predict returns the fixed reply with zero elapsed time.
func (m *TestingModel) Predict(ctx context.Context, _ string) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	return Prediction{Text: m.Reply}, nil
}
