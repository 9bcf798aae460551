package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medpractice/records/internal/platform/auth"
	"github.com/medpractice/records/internal/platform/cache"
	"github.com/medpractice/records/internal/platform/metrics"
)

// ServiceConfig wires the optional collaborators of a Service. Zero values
// disable caching, metrics and step timeouts.
type ServiceConfig struct {
	Options     Options
	Cache       cache.Store
	CacheTTL    time.Duration
	StepTimeout time.Duration
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

type Service struct {
	store       Store
	opts        Options
	cache       cache.Store
	cacheTTL    time.Duration
	stepTimeout time.Duration
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	pending     cache.Store
}

// NewService creates a Service. Pending merges share the report cache; without
// one they are kept in process.
func NewService(store Store, cfg ServiceConfig) *Service {
	s := &Service{
		store:       store,
		opts:        cfg.Options.orDefault(),
		cache:       cfg.Cache,
		cacheTTL:    cfg.CacheTTL,
		stepTimeout: cfg.StepTimeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		pending:     cfg.Cache,
	}
	if s.pending == nil {
		s.pending = cache.NewMemoryStore()
	}
	return s
}

const reportKeyPrefix = "dedup:report:"

// Report runs detection over the current snapshot. Reports are cached by
// snapshot fingerprint, so any patient write yields a fresh run.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	patients, err := s.store.ListAllPatients(ctx)
	if err != nil {
		return nil, err
	}
	fp := Fingerprint(patients, s.opts)

	if r, ok := s.cachedReport(ctx, fp); ok {
		return r, nil
	}

	start := time.Now()
	groups := FindDuplicateGroups(patients, s.opts)
	report := &Report{
		GeneratedAt:  start.UTC(),
		Fingerprint:  fp,
		PatientCount: len(patients),
		Groups:       groups,
		Statistics:   ComputeStatistics(groups),
	}
	st := report.Statistics
	s.metrics.ObserveDetection(start, len(patients), st.HighConfidenceCount, st.MediumConfidenceCount, st.LowConfidenceCount)
	s.logger.Info().
		Int("patients", len(patients)).
		Int("groups", st.GroupCount).
		Int("total_duplicates", st.TotalDuplicates).
		Dur("duration", time.Since(start)).
		Msg("duplicate scan completed")

	s.storeReport(ctx, report)
	return report, nil
}

func (s *Service) cachedReport(ctx context.Context, fp string) (*Report, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, reportKeyPrefix+fp)
	if err != nil {
		s.metrics.CacheLookup("error")
		s.logger.Warn().Err(err).Msg("report cache read failed")
		return nil, false
	}
	if !ok {
		s.metrics.CacheLookup("miss")
		return nil, false
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		s.metrics.CacheLookup("error")
		s.logger.Warn().Err(err).Msg("discarding undecodable cached report")
		return nil, false
	}
	s.metrics.CacheLookup("hit")
	return &r, true
}

func (s *Service) storeReport(ctx context.Context, r *Report) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		s.logger.Warn().Err(err).Msg("report encode failed")
		return
	}
	if err := s.cache.Set(ctx, reportKeyPrefix+r.Fingerprint, data, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("report cache write failed")
	}
}

func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	r, err := s.Report(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return r.Statistics, nil
}

// FindGroup returns the group with id from a fresh report. A group that is no
// longer detected yields ErrGroupNotFound.
func (s *Service) FindGroup(ctx context.Context, id uuid.UUID) (DuplicateGroup, error) {
	r, err := s.Report(ctx)
	if err != nil {
		return DuplicateGroup{}, err
	}
	g, ok := r.Group(id)
	if !ok {
		return DuplicateGroup{}, ErrGroupNotFound
	}
	return g, nil
}

func (s *Service) ReferenceCounts(ctx context.Context, patientID uuid.UUID) (ReferenceCounts, error) {
	records, err := s.store.ListDependentRecords(ctx, []uuid.UUID{patientID})
	if err != nil {
		return ReferenceCounts{}, err
	}
	return PatientReferenceCounts(patientID, records), nil
}

// AllReferenceCounts counts dependent records for every patient that has any.
func (s *Service) AllReferenceCounts(ctx context.Context) (map[uuid.UUID]ReferenceCounts, error) {
	records, err := s.store.ListAllDependentRecords(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]ReferenceCounts)
	for _, r := range records {
		c := out[r.PatientID]
		switch r.Kind {
		case RecordCareSheet:
			c.CareSheets++
		case RecordPrescription:
			c.Prescriptions++
		}
		out[r.PatientID] = c
	}
	return out, nil
}

func (s *Service) executor(ctx context.Context) *Executor {
	logger := s.logger
	if op := auth.UserIDFromContext(ctx); op != "" {
		logger = logger.With().Str("operator", op).Logger()
	}
	return NewExecutor(s.store, s.stepTimeout, logger)
}

const (
	pendingKeyPrefix = "dedup:pending:"
	pendingMergeTTL  = 30 * 24 * time.Hour
)

// pendingMerge is a merge that failed during deletion. Its group can no longer
// be detected once a member is gone, so the group and decision are kept under
// the original group id until a replay completes.
type pendingMerge struct {
	Group    DuplicateGroup `json:"group"`
	Decision MergeDecision  `json:"decision"`
}

func (s *Service) loadPending(ctx context.Context, groupID uuid.UUID) (*pendingMerge, bool) {
	data, ok, err := s.pending.Get(ctx, pendingKeyPrefix+groupID.String())
	if err != nil {
		s.logger.Warn().Err(err).Str("group_id", groupID.String()).Msg("pending merge lookup failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var pm pendingMerge
	if err := json.Unmarshal(data, &pm); err != nil {
		s.logger.Warn().Err(err).Str("group_id", groupID.String()).Msg("discarding undecodable pending merge")
		return nil, false
	}
	return &pm, true
}

func (s *Service) savePending(ctx context.Context, pm pendingMerge) {
	data, err := json.Marshal(pm)
	if err == nil {
		err = s.pending.Set(ctx, pendingKeyPrefix+pm.Group.ID.String(), data, pendingMergeTTL)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("group_id", pm.Group.ID.String()).Msg("could not record pending merge")
	}
}

func (s *Service) clearPending(ctx context.Context, groupID uuid.UUID) {
	if err := s.pending.Delete(ctx, pendingKeyPrefix+groupID.String()); err != nil {
		s.logger.Warn().Err(err).Str("group_id", groupID.String()).Msg("could not clear pending merge")
	}
}

// resolve returns the group to merge and the decision to apply. A partially
// applied merge is replayed with the group and decision it started with,
// whatever decision the caller sends now.
func (s *Service) resolve(ctx context.Context, groupID uuid.UUID, decision MergeDecision) (DuplicateGroup, MergeDecision, bool, error) {
	if pm, ok := s.loadPending(ctx, groupID); ok {
		return pm.Group, pm.Decision, true, nil
	}
	g, err := s.FindGroup(ctx, groupID)
	return g, decision, false, err
}

// PreviewMerge computes what merging groupID with decision would write.
func (s *Service) PreviewMerge(ctx context.Context, groupID uuid.UUID, decision MergeDecision) (*MergePlan, error) {
	g, decision, _, err := s.resolve(ctx, groupID, decision)
	if err != nil {
		return nil, err
	}
	return s.executor(ctx).Plan(ctx, g, decision)
}

// Merge collapses the group with groupID into its anchor. When deletion fails
// part way the merge is remembered, and calling Merge again with the same
// group id finishes it.
func (s *Service) Merge(ctx context.Context, groupID uuid.UUID, decision MergeDecision) (*MergeReport, error) {
	g, decision, resumed, err := s.resolve(ctx, groupID, decision)
	if err != nil {
		return nil, err
	}
	if resumed {
		s.logger.Info().Str("group_id", groupID.String()).Msg("resuming partially applied merge")
	}

	start := time.Now()
	report, err := s.executor(ctx).Merge(ctx, g, decision)
	s.metrics.ObserveMerge(start, mergeOutcome(err))

	var me *MergeError
	switch {
	case err == nil:
		if resumed {
			s.clearPending(ctx, groupID)
			report.Resumed = true
		}
	case errors.As(err, &me) && me.Kind == KindPartial:
		s.savePending(ctx, pendingMerge{Group: g, Decision: decision})
	}
	return report, err
}

func mergeOutcome(err error) string {
	if err == nil {
		return "success"
	}
	var me *MergeError
	if errors.As(err, &me) {
		return string(me.Kind)
	}
	return "error"
}
