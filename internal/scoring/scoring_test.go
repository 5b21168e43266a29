package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetaudit/fleetd/internal/model"
)

func statuses(pass, fail, warn int) []model.ControlStatus {
	var out []model.ControlStatus
	for i := 0; i < pass; i++ {
		out = append(out, model.StatusPass)
	}
	for i := 0; i < fail; i++ {
		out = append(out, model.StatusFail)
	}
	for i := 0; i < warn; i++ {
		out = append(out, model.StatusWarn)
	}
	return out
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		pass int
		fail int
		warn int
		want int
	}{
		{name: "all passed", pass: 10, want: 100},
		{name: "all failed", fail: 10, want: 0},
		{name: "empty set scores zero", want: 0},
		{name: "warn counts in denominator only", pass: 90, fail: 5, warn: 5, want: 90},
		{name: "eight of ten", pass: 8, fail: 1, warn: 1, want: 80},
		{name: "rounds half up", pass: 1, fail: 7, want: 13}, // 12.5
		{name: "one of three", pass: 1, fail: 2, want: 33},
		{name: "two of three", pass: 2, fail: 1, want: 67},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(statuses(tt.pass, tt.fail, tt.warn)))
		})
	}
}

func TestGradeBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, "A"},
		{90, "A"},
		{89, "B"},
		{80, "B"},
		{79, "C"},
		{70, "C"},
		{69, "D"},
		{60, "D"},
		{59, "F"},
		{0, "F"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Grade(tt.score), "score %d", tt.score)
	}
}

func TestSummarizeEmptySet(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Score)
	assert.Equal(t, "F", s.Grade)
	assert.Equal(t, 0, s.Total)
}

func TestOverlay(t *testing.T) {
	controls := []model.Control{
		{ID: "c1", Status: model.StatusFail},
		{ID: "c2", Status: model.StatusPass},
		{ID: "c3", Status: model.StatusWarn},
	}
	corrections := []*model.ControlCorrection{
		{ControlID: "c1", OriginalStatus: model.StatusFail, CorrectedStatus: model.StatusPass},
	}

	effective := Overlay(controls, corrections)
	assert.Len(t, effective, 3)
	assert.Equal(t, model.StatusPass, effective[0].EffectiveStatus)
	assert.NotNil(t, effective[0].Correction)
	assert.Equal(t, model.StatusPass, effective[1].EffectiveStatus)
	assert.Nil(t, effective[1].Correction)
	assert.Equal(t, model.StatusWarn, effective[2].EffectiveStatus)

	s := Summarize(effective)
	assert.Equal(t, 67, s.Score)
	assert.Equal(t, 2, s.Passed)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, 1, s.Warnings)
}

func TestSummarizeDeterministic(t *testing.T) {
	controls := []model.Control{
		{ID: "c1", Status: model.StatusFail},
		{ID: "c2", Status: model.StatusPass},
	}
	corrections := []*model.ControlCorrection{
		{ControlID: "c1", CorrectedStatus: model.StatusPass},
	}

	first := Summarize(Overlay(controls, corrections))
	second := Summarize(Overlay(controls, corrections))
	assert.Equal(t, first, second)
	assert.Equal(t, 100, first.Score)
	assert.Equal(t, "A", first.Grade)
}
