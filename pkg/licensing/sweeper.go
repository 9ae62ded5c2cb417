package licensing

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alignex/entitlements/pkg/observability"
)

// SweeperSchedules holds cron expressions for the maintenance jobs.
type SweeperSchedules struct {
	CachePurge     string
	ExpiryReport   string
	MetricsRefresh string
}

// Sweeper runs periodic maintenance: purging expired cache entries,
// reporting org modules past their expiry date, and refreshing license
// gauges. Expired modules are reported only; deactivation stays a manual
// administrative action.
type Sweeper struct {
	store   *Store
	cache   *MemoryCache
	logger  *observability.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
}

// NewSweeper creates a sweeper. cache may be nil when the resolver uses the
// Redis backend (Redis expires entries itself); metrics may be nil.
func NewSweeper(store *Store, cache *MemoryCache, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{
		store:   store,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
		cron:    cron.New(),
	}
}

// Start registers the jobs and starts the scheduler.
func (s *Sweeper) Start(schedules SweeperSchedules) error {
	if s.cache != nil {
		if _, err := s.cron.AddFunc(schedules.CachePurge, s.purgeCache); err != nil {
			return err
		}
	}
	if _, err := s.cron.AddFunc(schedules.ExpiryReport, s.reportExpiredModules); err != nil {
		return err
	}
	if s.metrics != nil {
		if _, err := s.cron.AddFunc(schedules.MetricsRefresh, s.refreshGauges); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Info("maintenance sweeper started")
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("maintenance sweeper stopped")
}

func (s *Sweeper) purgeCache() {
	purged := s.cache.Purge()
	if purged > 0 {
		s.logger.WithField("purged", purged).Debug("purged expired cache entries")
	}
}

func (s *Sweeper) reportExpiredModules() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := s.store.ListExpiredModules(ctx, time.Now().UTC())
	if err != nil {
		s.logger.WithError(err).Error("module expiry report failed")
		return
	}
	for _, m := range expired {
		s.logger.WithFields(map[string]interface{}{
			"org":        m.OrgID,
			"module":     m.Module,
			"expires_at": m.ExpiresAt,
		}).Warn("module license expired but still active")
	}
	if len(expired) == 0 {
		s.logger.Debug("no expired modules")
	}
}

func (s *Sweeper) refreshGauges() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	licenses, err := s.store.CountActiveLicensesByTier(ctx)
	if err != nil {
		s.logger.WithError(err).Error("license gauge refresh failed")
	} else {
		for _, tier := range []Tier{TierReadOnly, TierTeamMember, TierFullLicense} {
			s.metrics.ActiveLicenses.WithLabelValues(string(tier)).Set(float64(licenses[tier]))
		}
	}

	modules, err := s.store.CountActiveModules(ctx)
	if err != nil {
		s.logger.WithError(err).Error("module gauge refresh failed")
		return
	}
	for _, module := range AllModules {
		s.metrics.ActiveModules.WithLabelValues(string(module)).Set(float64(modules[module]))
	}
}
