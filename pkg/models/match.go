package models

import "time"

// UnknownID is reported as BestID when no candidate produced a score.
const UnknownID = "Unknown"

// SearchState is a state of a single search run.
type SearchState string

const (
	StateIdle       SearchState = "idle"
	StatePreloading SearchState = "preloading"
	StateSearching  SearchState = "searching"
	StateMatched    SearchState = "matched"
	StateNoMatch    SearchState = "no_match"
	StateTimedOut   SearchState = "timed_out"
)

// Terminal reports whether the state ends a run.
func (s SearchState) Terminal() bool {
	return s == StateMatched || s == StateNoMatch || s == StateTimedOut
}

// MatchCandidate is the result of comparing the sample with one gallery entry.
type MatchCandidate struct {
	GalleryID string  `json:"gallery_id"`
	Score     float64 `json:"score"`
	Matched   bool    `json:"matched"`
}

// MatchOutcome is the result of one search run.
type MatchOutcome struct {
	BestID         string        `json:"best_id"`
	BestScore      float64       `json:"best_score"`
	Matched        bool          `json:"matched"`
	TimedOut       bool          `json:"timed_out"`
	State          SearchState   `json:"state"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
}
