// Package pipeline runs a screening session through its phases, writing a
// checkpoint to the session store after every discrete unit of work so a
// crashed or superseded run can resume from where it stopped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/amscreen/internal/classifier"
	"horse.fit/amscreen/internal/globaltime"
	"horse.fit/amscreen/internal/guard"
	"horse.fit/amscreen/internal/langdetect"
	"horse.fit/amscreen/internal/progress"
	"horse.fit/amscreen/internal/reader"
	"horse.fit/amscreen/internal/screen"
	"horse.fit/amscreen/internal/search"
	"horse.fit/amscreen/internal/session"
	schema "horse.fit/amscreen/schema"
)

// ErrPaused reports that the run stopped at a safe point because the session
// was paused. The session remains resumable.
var ErrPaused = errors.New("screening paused")

// Classifier is the set of external classification operations the pipeline
// needs. *classifier.Client satisfies it.
type Classifier interface {
	Triage(ctx context.Context, items []classifier.TriageItem, subject string) (*schema.TriageResult, error)
	GroupTitles(ctx context.Context, titles []string, subject string) ([][]int, error)
	ClusterIncidents(ctx context.Context, titles []string, subject string) ([][]int, []string, error)
	Analyze(ctx context.Context, text, subject, query string) (*schema.AnalyzeResult, error)
	Consolidate(ctx context.Context, items []classifier.ConsolidateItem, subject string) (*schema.ConsolidateResult, error)
}

type Service struct {
	searcher   search.Searcher
	fetcher    reader.Fetcher
	classifier Classifier
	store      session.Store
	guard      *guard.Registry
	logger     zerolog.Logger
	opts       Options
}

func NewService(
	searcher search.Searcher,
	fetcher reader.Fetcher,
	cls Classifier,
	store session.Store,
	registry *guard.Registry,
	opts Options,
	logger zerolog.Logger,
) *Service {
	return &Service{
		searcher:   searcher,
		fetcher:    fetcher,
		classifier: cls,
		store:      store,
		guard:      registry,
		logger:     logger,
		opts:       opts.withDefaults(),
	}
}

// StartRequest describes a new screening.
type StartRequest struct {
	SubjectName  string   `json:"subject_name"`
	NameVariants []string `json:"name_variants,omitempty"`
	LanguageMode string   `json:"language_mode,omitempty"`
}

// Create builds and persists a fresh session. It does not start the run.
func (s *Service) Create(ctx context.Context, req StartRequest) (*session.Session, error) {
	subject := strings.TrimSpace(req.SubjectName)
	if subject == "" {
		return nil, fmt.Errorf("subject name is required")
	}

	mode := req.LanguageMode
	if mode != "zh" && mode != "en" {
		mode = langdetect.DetectMode(subject)
	}

	variants := make([]string, 0, len(req.NameVariants)+1)
	variants = append(variants, subject)
	for _, v := range req.NameVariants {
		v = strings.TrimSpace(v)
		if v != "" && v != subject {
			variants = append(variants, v)
		}
	}

	sess := &session.Session{
		SessionID:    uuid.NewString(),
		SubjectName:  subject,
		NameVariants: variants,
		LanguageMode: mode,
		Phase:        session.PhaseGather,
		CreatedAt:    globaltime.Now(),
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}
	return sess, nil
}

// StartOrResume returns the session a run should execute: the stored one when
// sessionID resolves to a usable checkpoint, otherwise a fresh session for the
// subject. A missing or undecodable checkpoint falls back to a new screening
// rather than failing the caller, as long as a subject name is available to
// start from. Resuming clears the pause flag.
func (s *Service) StartOrResume(ctx context.Context, req StartRequest, sessionID string) (*session.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		sess, err := s.store.Get(ctx, sessionID)
		if err == nil && sess.Phase.Valid() {
			if err := s.store.SetPaused(ctx, sessionID, false); err != nil {
				return nil, fmt.Errorf("clear pause flag: %w", err)
			}
			sess.IsPaused = false
			return sess, nil
		}
		if err == nil {
			err = fmt.Errorf("session %s has unknown phase %q", sessionID, sess.Phase)
		}
		if strings.TrimSpace(req.SubjectName) == "" {
			return nil, err
		}
		s.logger.Warn().Err(err).Str("session_id", sessionID).
			Msg("resume target unusable; starting a fresh screening")
	}
	return s.Create(ctx, req)
}

// Resume clears the pause flag so a subsequent Run continues the session.
func (s *Service) Resume(ctx context.Context, sessionID string) error {
	return s.store.SetPaused(ctx, sessionID, false)
}

// Pause sets the pause flag; the run stops at its next safe point.
func (s *Service) Pause(ctx context.Context, sessionID string) error {
	return s.store.SetPaused(ctx, sessionID, true)
}

// Status returns the lightweight view of a session.
func (s *Service) Status(ctx context.Context, sessionID string) (session.Summary, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return session.Summary{}, err
	}
	return sess.Summary(), nil
}

// Result returns the full session, including consolidated findings.
func (s *Service) Result(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.store.Get(ctx, sessionID)
}

// Sessions lists all known sessions.
func (s *Service) Sessions(ctx context.Context) ([]session.Summary, error) {
	return s.store.List(ctx)
}

// Run drives the session through its remaining phases. It claims the subject
// slot, superseding any active run for the same subject, and releases it on
// return. Returns ErrPaused when stopped by a pause, the context error when
// cancelled or superseded, nil on completion.
func (s *Service) Run(ctx context.Context, sessionID string, sink progress.Sink) (err error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !sess.Phase.Valid() {
		return fmt.Errorf("session %s has unknown phase %q", sessionID, sess.Phase)
	}
	if sink == nil {
		sink = progress.NopSink{}
	}

	runCtx, lease := s.guard.Acquire(ctx, sess.SubjectName, sess.SessionID)
	defer s.guard.Release(lease)

	stopHeartbeat := s.startHeartbeat(runCtx, sess.SessionID, sink)
	defer stopHeartbeat()

	logger := s.logger.With().
		Str("session_id", sess.SessionID).
		Str("subject", sess.SubjectName).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("screening run panicked; discarding session")
			sink.Emit(progress.Event{
				Type:      progress.EventError,
				SessionID: sess.SessionID,
				Phase:     string(sess.Phase),
				Message:   fmt.Sprintf("internal error: %v", r),
			})
			_ = s.store.Delete(context.WithoutCancel(runCtx), sess.SessionID)
			err = fmt.Errorf("screening run panicked: %v", r)
		}
	}()

	logger.Info().Str("phase", string(sess.Phase)).Msg("screening run starting")

	for sess.Phase != session.PhaseComplete {
		var phaseErr error
		switch sess.Phase {
		case session.PhaseGather:
			phaseErr = s.runGather(runCtx, sess, sink)
		case session.PhaseEliminate:
			phaseErr = s.runEliminate(runCtx, sess, sink)
		case session.PhaseTitleDedupe:
			phaseErr = s.runTitleDedupe(runCtx, sess, sink)
		case session.PhaseCluster:
			phaseErr = s.runCluster(runCtx, sess, sink)
		case session.PhaseCategorize:
			phaseErr = s.runCategorize(runCtx, sess, sink)
		case session.PhaseAnalyze:
			phaseErr = s.runAnalyze(runCtx, sess, sink)
		case session.PhaseConsolidate:
			phaseErr = s.runConsolidate(runCtx, sess, sink)
		default:
			phaseErr = fmt.Errorf("unknown phase %q", sess.Phase)
		}

		if errors.Is(phaseErr, ErrPaused) {
			logger.Info().Str("phase", string(sess.Phase)).Msg("screening paused at safe point")
			sink.Emit(progress.Event{
				Type:      progress.EventPaused,
				SessionID: sess.SessionID,
				Phase:     string(sess.Phase),
				Message:   "paused; session retained for resume",
			})
			return ErrPaused
		}
		if errors.Is(phaseErr, context.Canceled) {
			// Supersede or client disconnect. The session stays resumable and
			// the stream simply stops; this is not an error terminal.
			logger.Info().Str("phase", string(sess.Phase)).Msg("screening run cancelled; session retained for resume")
			return phaseErr
		}
		if phaseErr != nil {
			logger.Error().Err(phaseErr).Str("phase", string(sess.Phase)).Msg("screening phase failed")
			sink.Emit(progress.Event{
				Type:      progress.EventError,
				SessionID: sess.SessionID,
				Phase:     string(sess.Phase),
				Message:   phaseErr.Error(),
			})
			return phaseErr
		}
	}

	sink.Emit(progress.Event{
		Type:      progress.EventComplete,
		SessionID: sess.SessionID,
		Phase:     string(session.PhaseComplete),
		Done:      len(sess.Consolidated),
		Message:   fmt.Sprintf("screening complete: %d consolidated findings", len(sess.Consolidated)),
	})
	logger.Info().Int("findings", len(sess.Consolidated)).Msg("screening run complete")
	return nil
}

// startHeartbeat emits keepalives until the returned stop function is called.
// Stop joins the emitter goroutine, so once it returns no further Emit can
// happen and the caller may safely close the sink.
func (s *Service) startHeartbeat(ctx context.Context, sessionID string, sink progress.Sink) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				sink.Emit(progress.Event{
					Type:      progress.EventHeartbeat,
					SessionID: sessionID,
				})
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}

// safePoint is where cancellation and pause take effect. It is called
// between units of work, never inside one.
func (s *Service) safePoint(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	paused, err := s.store.IsPaused(ctx, sess.SessionID)
	if err != nil {
		return fmt.Errorf("poll pause flag: %w", err)
	}
	if paused {
		sess.IsPaused = true
		return ErrPaused
	}
	return nil
}

func (s *Service) checkpoint(ctx context.Context, sess *session.Session) error {
	if err := s.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("checkpoint session: %w", err)
	}
	return nil
}

func (s *Service) advance(ctx context.Context, sess *session.Session, next session.Phase, sink progress.Sink) error {
	sess.Phase = next
	sess.CurrentIndex = 0
	if err := s.checkpoint(ctx, sess); err != nil {
		return err
	}
	if next != session.PhaseComplete {
		sink.Emit(progress.Event{
			Type:      progress.EventPhaseStart,
			SessionID: sess.SessionID,
			Phase:     string(next),
		})
	}
	return nil
}

// --- gather ---

func (s *Service) runGather(ctx context.Context, sess *session.Session, sink progress.Sink) error {
	queries := BuildQueries(sess.NameVariants, sess.LanguageMode)

	if sess.GatherIndex == 0 {
		sink.Emit(progress.Event{
			Type:      progress.EventPhaseStart,
			SessionID: sess.SessionID,
			Phase:     string(session.PhaseGather),
			Total:     len(queries),
		})
	}

	seen := seenURLSet(sess.Gathered)
	for qi := sess.GatherIndex; qi < len(queries); qi++ {
		if err := s.safePoint(ctx, sess); err != nil {
			return err
		}

		hits, err := s.gatherQuery(ctx, queries[qi])
		if err != nil {
			return fmt.Errorf("search %q: %w", queries[qi], err)
		}
		appendNewHits(sess, hits, seen)

		sess.GatherIndex = qi + 1
		if err := s.checkpoint(ctx, sess); err != nil {
			return err
		}
		sink.Emit(progress.Event{
			Type:      progress.EventGatherProgress,
			SessionID: sess.SessionID,
			Phase:     string(session.PhaseGather),
			Done:      qi + 1,
			Total:     len(queries),
			Message:   fmt.Sprintf("%d results", len(sess.Gathered)),
		})
	}

	if s.opts.ExpandCompanies {
		if err := s.runCompanyExpansion(ctx, sess, sink, seen); err != nil {
			return err
		}
	}

	return s.advance(ctx, sess, session.PhaseEliminate, sink)
}

func (s *Service) runCompanyExpansion(ctx context.Context, sess *session.Session, sink progress.Sink, seen map[string]struct{}) error {
	if sess.CompanyExpansionIndex == 0 && len(sess.DetectedCompanies) == 0 {
		companies := screen.DetectCompanies(sess.Gathered, sess.SubjectName)
		if len(companies) > s.opts.MaxCompanies {
			companies = companies[:s.opts.MaxCompanies]
		}
		sess.DetectedCompanies = companies
		if err := s.checkpoint(ctx, sess); err != nil {
			return err
		}
	}

	for ci := sess.CompanyExpansionIndex; ci < len(sess.DetectedCompanies); ci++ {
		if err := s.safePoint(ctx, sess); err != nil {
			return err
		}

		company := sess.DetectedCompanies[ci]
		for _, query := range BuildCompanyQueries(company, sess.LanguageMode) {
			hits, err := s.gatherQuery(ctx, query)
			if err != nil {
				return fmt.Errorf("company search %q: %w", query, err)
			}
			appendNewHits(sess, hits, seen)
		}

		sess.CompanyExpansionIndex = ci + 1
		if err := s.checkpoint(ctx, sess); err != nil {
			return err
		}
		sink.Emit(progress.Event{
			Type:      progress.EventExpansionProgress,
			SessionID: sess.SessionID,
			Phase:     string(session.PhaseGather),
			Done:      ci + 1,
			Total:     len(sess.DetectedCompanies),
			Message:   company,
		})
	}
	return nil
}

// gatherQuery paginates one query until the engine runs dry or the page cap
// is hit. A short page means the engine has no more results.
func (s *Service) gatherQuery(ctx context.Context, query string) ([]search.Hit, error) {
	var all []search.Hit
	for page := 1; page <= s.opts.MaxPages; page++ {
		hits, err := s.searcher.Search(ctx, query, page)
		if err != nil {
			return nil, err
		}
		all = append(all, hits...)
		if len(hits) < s.opts.PageSize {
			break
		}
	}
	return all, nil
}

func seenURLSet(hits []search.Hit) map[string]struct{} {
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		seen[screen.NormalizeURL(hit.URL)] = struct{}{}
	}
	return seen
}

func appendNewHits(sess *session.Session, hits []search.Hit, seen map[string]struct{}) {
	for _, hit := range hits {
		key := screen.NormalizeURL(hit.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sess.Gathered = append(sess.Gathered, hit)
	}
}

// --- eliminate ---

func (s *Service) runEliminate(ctx context.Context, sess *session.Session, sink progress.Sink) error {
	if err := s.safePoint(ctx, sess); err != nil {
		return err
	}

	part := screen.Eliminate(sess.Gathered, sess.SubjectName)
	sess.PassedElimination = append(part.Passed, part.Bypassed...)

	detail := make(map[string]any, len(part.Breakdown))
	for reason, count := range part.Breakdown {
		detail[string(reason)] = count
	}
	sink.Emit(progress.Event{
		Type:      progress.EventEliminateSummary,
		SessionID: sess.SessionID,
		Phase:     string(session.PhaseEliminate),
		Done:      len(sess.PassedElimination),
		Total:     len(sess.Gathered),
		Detail:    detail,
		Message: fmt.Sprintf("%d of %d passed (%d bypassed)",
			len(sess.PassedElimination), len(sess.Gathered), len(part.Bypassed)),
	})

	return s.advance(ctx, sess, session.PhaseTitleDedupe, sink)
}

// --- title dedupe ---

func (s *Service) runTitleDedupe(ctx context.Context, sess *session.Session, sink progress.Sink) error {
	if err := s.safePoint(ctx, sess); err != nil {
		return err
	}

	deduper := screen.NewDeduper(s.classifier, screen.DeduperOptions{
		BatchSize: s.opts.DedupeBatchSize,
		MinInput:  s.opts.DedupeMinInput,
	}, s.logger)

	outcome, err := deduper.Run(ctx, sess.PassedElimination, sess.SubjectName, func(done, total int) {
		sink.Emit(progress.Event{
			Type:      progress.EventDedupeProgress,
			SessionID: sess.SessionID,
			Phase:     string(session.PhaseTitleDedupe),
			Done:      done,
			Total:     total,
		})
	})
	if err != nil {
		return err
	}

	if outcome.Skipped {
		sink.Emit(progress.Event{
			Type:      progress.EventPhaseSkip,
			SessionID: sess.SessionID,
			Phase:     string(session.PhaseTitleDedupe),
			Message:   fmt.Sprintf("only %d candidates; dedup not worthwhile", len(sess.PassedElimination)),
		})
	}
	sess.PassedElimination = outcome.Unique

	return s.advance(ctx, sess, session.PhaseCluster, sink)
}

// --- cluster ---

func (s *Service) runCluster(ctx context.Context, sess *session.Session, sink progress.Sink) error {
	clusterer := screen.NewClusterer(s.classifier, screen.ClustererOptions{
		BatchSize:     s.opts.ClusterBatchSize,
		MaxPerCluster: s.opts.MaxPerCluster,
	}, s.logger)

	batches := clusterer.Batches(sess.PassedElimination)
	for bi := sess.ClusterBatchIndex; bi < len(batches); bi++ {
		if err := s.safePoint(ctx, sess); err != nil {
			return err
		}

		clusters := clusterer.ClusterBatch(ctx, batches[bi], sess.SubjectName)
		for _, cluster := range clusters {
			if err := cluster.Validate(); err != nil {
				return err
			}
		}
		sess.Clusters = append(sess.Clusters, clusters...)

		sess.ClusterBatchIndex = bi + 1
		if err := s.checkpoint(ctx, sess); err != nil {
			return err
		}
		sink.Emit(progress.Event{
			Type:      progress.EventClusterBatch,
			SessionID: sess.SessionID,
			Phase:     string(session.PhaseCluster),
			Done:      bi + 1,
			Total:     len(batches),
		})
	}

	merged := screen.MergeByLabel(sess.Clusters, screen.LabelMergeThreshold)
	sess.Clusters = merged
	sel := clusterer.Select(merged)
	sess.ToAnalyze = sel.ToAnalyze
	sess.Parked = sel.Parked

	sink.Emit(progress.Event{
		Type:      progress.EventClusterMerged,
		SessionID: sess.SessionID,
		Phase:     string(session.PhaseCluster),
		Done:      len(merged),
		Message: fmt.Sprintf("%d incidents; %d articles to analyze, %d parked",
			len(merged), len(sess.ToAnalyze), len(sess.Parked)),
	})

	return s.advance(ctx, sess, session.PhaseCategorize, sink)
}

// --- categorize ---

func (s *Service) runCategorize(ctx context.Context, sess *session.Session, sink progress.Sink) error {
	batches := screen.ChunkHits(sess.ToAnalyze, s.opts.CategorizeBatchSize)
	for bi := sess.CategorizeBatchIndex; bi < len(batches); bi++ {
		if err := s.safePoint(ctx, sess); err != nil {
			return err
		}

		batch := batches[bi]
		items := make([]classifier.TriageItem, 0, len(batch))
		for _, hit := range batch {
			items = append(items, classifier.TriageItem{Title: hit.Title, Snippet: hit.Snippet})
		}

		result, err := s.classifier.Triage(ctx, items, sess.SubjectName)
		if err != nil {
			s.logger.Warn().Err(err).Int("batch", bi).
				Msg("triage failed; routing batch to manual review")
			for _, hit := range batch {
				sess.Categorized = append(sess.Categorized, s.categorized(sess, hit,
					screen.CategoryAmber, "triage unavailable; routed to manual review"))
			}
		} else {
			sess.Categorized = append(sess.Categorized, s.applyTriage(sess, batch, result)...)
		}

		sess.CategorizeBatchIndex = bi + 1
		if err := s.checkpoint(ctx, sess); err != nil {
			return err
		}
		sink.Emit(progress.Event{
			Type:      progress.EventCategorizeBatch,
			SessionID: sess.SessionID,
			Phase:     string(session.PhaseCategorize),
			Done:      bi + 1,
			Total:     len(batches),
		})
	}

	s.capDuplicateStories(sess)

	return s.advance(ctx, sess, session.PhaseAnalyze, sink)
}

// capDuplicateStories prunes the triaged set before full-text analysis.
// Exact URL repeats go first; then near-identical titles are grouped and each
// group keeps at most MaxPerCluster items, parking the overflow as
// corroborating sources. Clustering already caps coverage per incident, but
// duplicate stories can straddle cluster boundaries.
func (s *Service) capDuplicateStories(sess *session.Session) {
	maxPerStory := s.opts.MaxPerCluster
	if maxPerStory <= 0 {
		maxPerStory = screen.DefaultMaxPerCluster
	}

	seen := make(map[string]struct{}, len(sess.Categorized))
	deduped := make([]session.CategorizedResult, 0, len(sess.Categorized))
	for _, cr := range sess.Categorized {
		key := screen.NormalizeURL(cr.Hit.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, cr)
	}

	titles := make([]string, len(deduped))
	for i, cr := range deduped {
		titles[i] = cr.Hit.Title
	}

	drop := make(map[int]struct{})
	for _, group := range screen.GroupNearDuplicateTitles(titles, screen.NearDuplicateThreshold) {
		for n, index := range group {
			if n >= maxPerStory {
				drop[index] = struct{}{}
			}
		}
	}

	kept := make([]session.CategorizedResult, 0, len(deduped))
	for i, cr := range deduped {
		if _, cut := drop[i]; cut {
			sess.Parked = append(sess.Parked, cr.Hit)
			continue
		}
		kept = append(kept, cr)
	}
	sess.Categorized = kept
}

func (s *Service) applyTriage(sess *session.Session, batch []search.Hit, result *schema.TriageResult) []session.CategorizedResult {
	byIndex := make(map[int]session.CategorizedResult, len(batch))
	assign := func(items []schema.TriagedItem, category screen.Category) {
		for _, item := range items {
			hit := batch[item.Index-1]
			byIndex[item.Index-1] = s.categorized(sess, hit, category, item.Reason)
		}
	}
	assign(result.Green, screen.CategoryGreen)
	assign(result.Amber, screen.CategoryAmber)
	assign(result.Red, screen.CategoryRed)

	out := make([]session.CategorizedResult, 0, len(batch))
	for i, hit := range batch {
		if cr, ok := byIndex[i]; ok {
			out = append(out, cr)
			continue
		}
		// The classifier skipped this item; err toward review, not silence.
		out = append(out, s.categorized(sess, hit, screen.CategoryAmber, "not triaged; routed to manual review"))
	}
	return out
}

func (s *Service) categorized(sess *session.Session, hit search.Hit, category screen.Category, reason string) session.CategorizedResult {
	cr := session.CategorizedResult{
		Hit:      hit,
		Category: category,
		Reason:   reason,
	}
	if cluster, ok := screen.FindCluster(sess.Clusters, screen.NormalizeURL(hit.URL)); ok {
		cr.ClusterID = cluster.ID
		cr.ClusterLabel = cluster.Label
	}
	return cr
}

// --- analyze ---

func (s *Service) runAnalyze(ctx context.Context, sess *session.Session, sink progress.Sink) error {
	worklist := analyzable(sess.Categorized)

	for i := sess.CurrentIndex; i < len(worklist); i++ {
		if err := s.safePoint(ctx, sess); err != nil {
			return err
		}

		item := worklist[i]
		finding, keep := s.analyzeOne(ctx, sess, item)
		if keep {
			sess.Findings = append(sess.Findings, finding)
		}

		sess.CurrentIndex = i + 1
		if err := s.checkpoint(ctx, sess); err != nil {
			return err
		}
		sink.Emit(progress.Event{
			Type:      progress.EventAnalyzeItem,
			SessionID: sess.SessionID,
			Phase:     string(session.PhaseAnalyze),
			Done:      i + 1,
			Total:     len(worklist),
			Message:   item.Hit.Title,
		})
	}

	return s.advance(ctx, sess, session.PhaseConsolidate, sink)
}

// analyzable derives the analysis worklist from the categorized results.
// Green items are done; red and amber get a full-text read.
func analyzable(categorized []session.CategorizedResult) []session.CategorizedResult {
	out := make([]session.CategorizedResult, 0, len(categorized))
	for _, cr := range categorized {
		if cr.Category == screen.CategoryRed || cr.Category == screen.CategoryAmber {
			out = append(out, cr)
		}
	}
	return out
}

// analyzeOne fetches and analyzes a single article. Snippet-flagged items
// whose full text cannot be retrieved or analyzed are preserved for manual
// review rather than silently dropped.
func (s *Service) analyzeOne(ctx context.Context, sess *session.Session, item session.CategorizedResult) (session.RawFinding, bool) {
	text, err := s.fetcher.FetchText(ctx, item.Hit.URL)
	if err == nil && looksLikeErrorPage(text) {
		err = fmt.Errorf("page content looks like an error or paywall stub")
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("url", item.Hit.URL).
			Msg("article fetch failed; preserving snippet verdict for manual review")
		return session.RawFinding{
			URL:            item.Hit.URL,
			Title:          item.Hit.Title,
			Severity:       item.Category,
			Headline:       item.Hit.Title,
			Summary:        "Full text unavailable (" + err.Error() + "); snippet-level verdict retained for manual review.",
			SourceCategory: string(item.Category),
			FetchFailed:    true,
		}, true
	}

	result, err := s.classifier.Analyze(ctx, text, sess.SubjectName, item.Hit.Query)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", item.Hit.URL).
			Msg("article analysis failed; preserving snippet verdict for manual review")
		return session.RawFinding{
			URL:            item.Hit.URL,
			Title:          item.Hit.Title,
			Severity:       item.Category,
			Headline:       item.Hit.Title,
			Summary:        "Analysis unavailable; snippet-level verdict retained for manual review.",
			SourceCategory: string(item.Category),
			FetchFailed:    true,
		}, true
	}

	if result.IsAdverse {
		return session.RawFinding{
			URL:            item.Hit.URL,
			Title:          item.Hit.Title,
			Severity:       screen.Category(result.Severity),
			Headline:       result.Headline,
			Summary:        result.Summary,
			SourceCategory: string(item.Category),
		}, true
	}

	// Full text cleared the article. A red snippet verdict contradicted by
	// the full text still goes to human eyes.
	if item.Category == screen.CategoryRed {
		return session.RawFinding{
			URL:            item.Hit.URL,
			Title:          item.Hit.Title,
			Severity:       screen.CategoryAmber,
			Headline:       item.Hit.Title,
			Summary:        "Snippet triage was red but full-text analysis found no adverse content; flagged for manual review.",
			SourceCategory: string(screen.CategoryRed),
		}, true
	}
	return session.RawFinding{}, false
}

// errorPageMarkers are phrases that mean the fetch retrieved a shell page,
// not the article.
var errorPageMarkers = []string{
	"404 not found",
	"page not found",
	"access denied",
	"enable javascript",
	"subscribe to continue",
	"verify you are human",
	"页面不存在",
	"访问受限",
	"请开启javascript",
}

const minArticleLength = 200

func looksLikeErrorPage(text string) bool {
	if len(text) < minArticleLength {
		return true
	}
	lower := strings.ToLower(text)
	for _, marker := range errorPageMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// --- consolidate ---

func (s *Service) runConsolidate(ctx context.Context, sess *session.Session, sink progress.Sink) error {
	if err := s.safePoint(ctx, sess); err != nil {
		return err
	}

	sess.Consolidated = s.consolidateFindings(ctx, sess)

	now := globaltime.Now()
	sess.CompletedAt = &now
	return s.advance(ctx, sess, session.PhaseComplete, sink)
}

func (s *Service) consolidateFindings(ctx context.Context, sess *session.Session) []session.ConsolidatedFinding {
	if len(sess.Findings) == 0 {
		return nil
	}
	if len(sess.Findings) == 1 {
		return singletonConsolidation(sess.Findings)
	}

	items := make([]classifier.ConsolidateItem, 0, len(sess.Findings))
	for _, f := range sess.Findings {
		items = append(items, classifier.ConsolidateItem{
			Headline: f.Headline,
			Summary:  f.Summary,
			Severity: string(f.Severity),
		})
	}

	result, err := s.classifier.Consolidate(ctx, items, sess.SubjectName)
	if err != nil {
		s.logger.Warn().Err(err).
			Msg("consolidation failed; reporting each finding separately")
		return singletonConsolidation(sess.Findings)
	}

	grouped := make(map[int]struct{}, len(sess.Findings))
	out := make([]session.ConsolidatedFinding, 0, len(result.Groups))
	for gi, group := range result.Groups {
		cf := session.ConsolidatedFinding{}
		for _, index := range group {
			f := sess.Findings[index-1]
			grouped[index-1] = struct{}{}
			cf.Sources = append(cf.Sources, f)
			if cf.Severity != screen.CategoryRed {
				cf.Severity = maxSeverity(cf.Severity, f.Severity)
			}
			if cf.Headline == "" {
				cf.Headline = f.Headline
				cf.Summary = f.Summary
			}
		}
		if gi < len(result.Headlines) && strings.TrimSpace(result.Headlines[gi]) != "" {
			cf.Headline = result.Headlines[gi]
		}
		if len(cf.Sources) > 0 {
			out = append(out, cf)
		}
	}

	// Findings the classifier left ungrouped each stand alone.
	for i, f := range sess.Findings {
		if _, ok := grouped[i]; ok {
			continue
		}
		out = append(out, session.ConsolidatedFinding{
			Headline: f.Headline,
			Summary:  f.Summary,
			Severity: f.Severity,
			Sources:  []session.RawFinding{f},
		})
	}
	return out
}

func singletonConsolidation(findings []session.RawFinding) []session.ConsolidatedFinding {
	out := make([]session.ConsolidatedFinding, 0, len(findings))
	for _, f := range findings {
		out = append(out, session.ConsolidatedFinding{
			Headline: f.Headline,
			Summary:  f.Summary,
			Severity: f.Severity,
			Sources:  []session.RawFinding{f},
		})
	}
	return out
}

func maxSeverity(a, b screen.Category) screen.Category {
	if a == screen.CategoryRed || b == screen.CategoryRed {
		return screen.CategoryRed
	}
	return screen.CategoryAmber
}
