// Package scoring computes compliance scores and letter grades from control
// outcomes. All functions are pure and deterministic so a recomputation over
// the same effective control set always yields the same result.
package scoring

import (
	"math"

	"github.com/fleetaudit/fleetd/internal/model"
)

// Summary is the result of scoring one control set.
type Summary struct {
	Score    int    `json:"score"`
	Grade    string `json:"grade"`
	Total    int    `json:"total"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	Warnings int    `json:"warnings"`
}

// Score computes the percentage score for a set of effective statuses.
// A control counts toward the numerator only when its effective status is
// PASS; WARN controls stay in the denominator. An empty set scores 0.
func Score(statuses []model.ControlStatus) int {
	total := len(statuses)
	if total == 0 {
		return 0
	}
	passed := 0
	for _, s := range statuses {
		if s == model.StatusPass {
			passed++
		}
	}
	return int(math.Round(100 * float64(passed) / float64(total)))
}

// Grade maps a score to its letter grade. Thresholds are inclusive lower
// bounds: A>=90, B>=80, C>=70, D>=60, F otherwise.
func Grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// Summarize scores a control set with its correction overlay applied and
// returns the full count breakdown alongside score and grade.
func Summarize(controls []model.EffectiveControl) Summary {
	s := Summary{Total: len(controls)}
	statuses := make([]model.ControlStatus, 0, len(controls))
	for _, c := range controls {
		statuses = append(statuses, c.EffectiveStatus)
		switch c.EffectiveStatus {
		case model.StatusPass:
			s.Passed++
		case model.StatusFail:
			s.Failed++
		case model.StatusWarn:
			s.Warnings++
		}
	}
	s.Score = Score(statuses)
	s.Grade = Grade(s.Score)
	return s
}

// Overlay applies corrections to base controls, keyed by control id. The
// effective status is the correction's corrected status when one exists,
// otherwise the control's own status.
func Overlay(controls []model.Control, corrections []*model.ControlCorrection) []model.EffectiveControl {
	byControl := make(map[string]*model.ControlCorrection, len(corrections))
	for _, c := range corrections {
		byControl[c.ControlID] = c
	}

	effective := make([]model.EffectiveControl, 0, len(controls))
	for _, ctrl := range controls {
		ec := model.EffectiveControl{Control: ctrl, EffectiveStatus: ctrl.Status}
		if corr, ok := byControl[ctrl.ID]; ok {
			ec.EffectiveStatus = corr.CorrectedStatus
			ec.Correction = corr
		}
		effective = append(effective, ec)
	}
	return effective
}
