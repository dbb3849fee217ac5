// Package session owns the durable checkpoint of a screening run. The
// orchestrator holds one in-memory working copy during execution and writes
// it back through a Store after every discrete unit of work; nothing else
// mutates a session.
package session

import (
	"strings"
	"time"

	"horse.fit/amscreen/internal/screen"
	"horse.fit/amscreen/internal/search"
)

// Phase of the screening state machine. Transitions are monotonic; a session
// never moves backward except by starting a new run.
type Phase string

const (
	PhaseGather      Phase = "gather"
	PhaseEliminate   Phase = "eliminate"
	PhaseTitleDedupe Phase = "title_dedupe"
	PhaseCluster     Phase = "cluster"
	PhaseCategorize  Phase = "categorize"
	PhaseAnalyze     Phase = "analyze"
	PhaseConsolidate Phase = "consolidate"
	PhaseComplete    Phase = "complete"
)

var phaseOrder = map[Phase]int{
	PhaseGather:      0,
	PhaseEliminate:   1,
	PhaseTitleDedupe: 2,
	PhaseCluster:     3,
	PhaseCategorize:  4,
	PhaseAnalyze:     5,
	PhaseConsolidate: 6,
	PhaseComplete:    7,
}

// Before reports whether p is strictly earlier than other in phase order.
func (p Phase) Before(other Phase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// CategorizedResult is a hit tagged with its RED/AMBER/GREEN triage outcome
// plus any inherited incident cluster identity.
type CategorizedResult struct {
	Hit          search.Hit      `json:"hit"`
	Category     screen.Category `json:"category"`
	Reason       string          `json:"reason"`
	ClusterID    string          `json:"cluster_id,omitempty"`
	ClusterLabel string          `json:"cluster_label,omitempty"`
}

// RawFinding is one adverse determination for one URL.
type RawFinding struct {
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	Severity       screen.Category `json:"severity"`
	Headline       string          `json:"headline"`
	Summary        string          `json:"summary"`
	SourceCategory string          `json:"source_category"`
	FetchFailed    bool            `json:"fetch_failed"`
}

// ConsolidatedFinding is a merged incident built from one or more raw
// findings judged to be the same underlying event. RED dominates AMBER.
type ConsolidatedFinding struct {
	Headline string          `json:"headline"`
	Summary  string          `json:"summary"`
	Severity screen.Category `json:"severity"`
	Sources  []RawFinding    `json:"sources"`
}

// Session is the full checkpoint for one screening run.
type Session struct {
	SessionID    string   `json:"session_id"`
	SubjectName  string   `json:"subject_name"`
	NameVariants []string `json:"name_variants"`
	LanguageMode string   `json:"language_mode"`

	Phase Phase `json:"phase"`

	// Per-phase cursors. Each counts completed units within its phase.
	GatherIndex           int `json:"gather_index"`
	CompanyExpansionIndex int `json:"company_expansion_index"`
	ClusterBatchIndex     int `json:"cluster_batch_index"`
	CategorizeBatchIndex  int `json:"categorize_batch_index"`
	CurrentIndex          int `json:"current_index"`

	DetectedCompanies []string `json:"detected_companies,omitempty"`

	Gathered          []search.Hit          `json:"gathered"`
	PassedElimination []search.Hit          `json:"passed_elimination"`
	Clusters          []screen.Cluster      `json:"clusters,omitempty"`
	ToAnalyze         []search.Hit          `json:"to_analyze,omitempty"`
	Parked            []search.Hit          `json:"parked,omitempty"`
	Categorized       []CategorizedResult   `json:"categorized,omitempty"`
	Findings          []RawFinding          `json:"findings,omitempty"`
	Consolidated      []ConsolidatedFinding `json:"consolidated,omitempty"`

	IsPaused bool `json:"is_paused"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Summary is the lightweight status view of a session.
type Summary struct {
	SessionID   string    `json:"session_id"`
	SubjectName string    `json:"subject_name"`
	Phase       Phase     `json:"phase"`
	IsPaused    bool      `json:"is_paused"`
	RedCount    int       `json:"red_count"`
	AmberCount  int       `json:"amber_count"`
	Progress    string    `json:"progress"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Session) Summary() Summary {
	red, amber := 0, 0
	for _, finding := range s.Findings {
		switch finding.Severity {
		case screen.CategoryRed:
			red++
		case screen.CategoryAmber:
			amber++
		}
	}
	return Summary{
		SessionID:   s.SessionID,
		SubjectName: s.SubjectName,
		Phase:       s.Phase,
		IsPaused:    s.IsPaused,
		RedCount:    red,
		AmberCount:  amber,
		Progress:    s.progressSummary(),
		UpdatedAt:   s.UpdatedAt,
	}
}

func (s *Session) progressSummary() string {
	switch s.Phase {
	case PhaseGather:
		return "gathering search results"
	case PhaseEliminate:
		return "eliminating noise"
	case PhaseTitleDedupe:
		return "collapsing duplicate titles"
	case PhaseCluster:
		return "clustering incidents"
	case PhaseCategorize:
		return "triaging articles"
	case PhaseAnalyze:
		return "analyzing articles"
	case PhaseConsolidate:
		return "consolidating findings"
	case PhaseComplete:
		return "complete"
	default:
		return string(s.Phase)
	}
}

// NormalizeSubject produces the map key used by the concurrency guard so the
// same subject spelled with different casing or spacing shares one slot.
func NormalizeSubject(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), " ")
}
