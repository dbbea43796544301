// Package model defines the core data types and structures used throughout the draftmill pipeline.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// Stage represents a job's position in the article pipeline.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Stage string

const (
	// StagePending indicates a job has been created but no work has started.
	StagePending Stage = "pending"
	// StageResearching indicates research is owed for the job.
	StageResearching Stage = "researching"
	// StageWriting indicates drafting is owed for the job.
	StageWriting Stage = "writing"
	// StageEnriching indicates enrichment (citations, metrics) is owed.
	StageEnriching Stage = "enriching"
	// StageRevising indicates a revision pass is owed.
	StageRevising Stage = "revising"
	// StageFactChecking indicates fact checking is owed.
	StageFactChecking Stage = "fact_checking"
	// StageSeoOptimizing indicates SEO optimization is owed.
	StageSeoOptimizing Stage = "seo_optimizing"
	// StageHumanizing indicates the humanize pass is owed.
	StageHumanizing Stage = "humanizing"
	// StageInternalLinking indicates internal link placement is owed.
	StageInternalLinking Stage = "internal_linking"
	// StageMediaGenerating indicates media generation is owed.
	StageMediaGenerating Stage = "media_generating"
	// StageFormatting indicates WordPress formatting is owed.
	StageFormatting Stage = "wordpress_formatting"
	// StageReady indicates the article is complete and awaiting publication.
	StageReady Stage = "ready"
	// StagePublished indicates the article has been published.
	StagePublished Stage = "published"
	// StageFailed indicates the job exhausted its retries or timed out.
	StageFailed Stage = "failed"
)

// ErrNoJobsAvailable is returned when no job is eligible for processing.
var ErrNoJobsAvailable = errors.New("no jobs available")

// stageOrder fixes the pipeline ordering used for job selection. Earlier
// stages are advanced first so half-finished jobs stay bounded and the later
// (more expensive) stages are fed steadily.
var stageOrder = []Stage{
	StagePending,
	StageResearching,
	StageWriting,
	StageEnriching,
	StageRevising,
	StageFactChecking,
	StageSeoOptimizing,
	StageHumanizing,
	StageInternalLinking,
	StageMediaGenerating,
	StageFormatting,
	StageReady,
	StagePublished,
	StageFailed,
}

// stageNext maps each working stage to the stage the job lands on once that
// stage's work has been applied. Terminal stages have no entry.
var stageNext = map[Stage]Stage{
	StageResearching:     StageWriting,
	StageWriting:         StageEnriching,
	StageEnriching:       StageRevising,
	StageRevising:        StageFactChecking,
	StageFactChecking:    StageSeoOptimizing,
	StageSeoOptimizing:   StageHumanizing,
	StageHumanizing:      StageInternalLinking,
	StageInternalLinking: StageMediaGenerating,
	StageMediaGenerating: StageFormatting,
	StageFormatting:      StageReady,
}

// stageOutputKeys names the stage_outputs entry each working stage produces.
var stageOutputKeys = map[Stage]string{
	StageResearching:     "research",
	StageWriting:         "draft",
	StageEnriching:       "enrichment",
	StageRevising:        "revised",
	StageFactChecking:    "fact_check",
	StageSeoOptimizing:   "seo",
	StageHumanizing:      "humanized",
	StageInternalLinking: "links",
	StageMediaGenerating: "media",
	StageFormatting:      "wordpress",
}

// Valid returns true if the Stage is one of the known pipeline stages.
func (s Stage) Valid() bool {
	if s == StagePending || s == StageReady || s == StagePublished || s == StageFailed {
		return true
	}
	_, ok := stageNext[s]
	return ok
}

// UnmarshalText implements encoding.TextUnmarshaler for Stage to allow env parsing.
func (s *Stage) UnmarshalText(text []byte) error {
	v := Stage(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid Stage: %q", string(text))
	}
	*s = v
	return nil
}

// Terminal returns true for stages the engine never advances out of.
func (s Stage) Terminal() bool {
	return s == StageReady || s == StagePublished || s == StageFailed
}

// WorkStage returns the stage whose worker runs when a job at s is picked up.
// A pending job owes the first working stage; a job resting at a working
// stage owes that stage itself. Terminal stages owe nothing and return false.
func (s Stage) WorkStage() (Stage, bool) {
	if s == StagePending {
		return StageResearching, true
	}
	if _, ok := stageNext[s]; ok {
		return s, true
	}
	return "", false
}

// Next returns the stage a job lands on once s's work has been applied.
// Returns false for stages with no successor (pending resolves through
// WorkStage first; terminal stages have none).
func (s Stage) Next() (Stage, bool) {
	next, ok := stageNext[s]
	return next, ok
}

// OutputKey returns the stage_outputs key a working stage writes under.
func (s Stage) OutputKey() (string, bool) {
	key, ok := stageOutputKeys[s]
	return key, ok
}

// Index returns the stage's position in the fixed pipeline ordering.
// Unknown stages sort last.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return len(stageOrder)
}

// Stages returns all pipeline stages in their fixed order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// WorkingStages returns the stages that have a registered worker, in order.
func WorkingStages() []Stage {
	out := make([]Stage, 0, len(stageNext))
	for _, s := range stageOrder {
		if _, ok := stageNext[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
