package statistics

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/cache"
	"github.com/ManuelReschke/BillingSync/internal/pkg/jobqueue"
	"github.com/ManuelReschke/BillingSync/internal/pkg/metrics/counter"
)

const (
	CacheKeyLedgerCounts = "statistics:webhooks:ledger"
	CacheExpiration      = 30 * time.Second
)

// LedgerCounter is the part of the idempotency ledger the statistics read.
type LedgerCounter interface {
	CountByStatus(ctx context.Context) (map[models.WebhookEventStatus]int64, error)
}

// StatisticsData is what the admin stats endpoint returns.
type StatisticsData struct {
	Ledger      map[string]int64     `json:"ledger"`
	LedgerCache bool                 `json:"ledger_cached"`
	Queues      []*jobqueue.Snapshot `json:"queues"`
	Traffic     *counter.Counters    `json:"traffic,omitempty"`
	GeneratedAt time.Time            `json:"generated_at"`
}

type Service struct {
	ledger LedgerCounter
	queues []*jobqueue.Queue

	// refreshMu keeps concurrent cache misses from all hitting the database
	refreshMu sync.Mutex
}

func NewService(ledger LedgerCounter, queues ...*jobqueue.Queue) *Service {
	return &Service{ledger: ledger, queues: queues}
}

// LedgerCounts returns event counts by status, from cache when fresh. The second value reports a
// cache hit.
func (s *Service) LedgerCounts(ctx context.Context) (map[string]int64, bool, error) {
	counts := map[string]int64{}
	if found, err := cache.GetJSON(CacheKeyLedgerCounts, &counts); err != nil {
		log.Warnf("[Statistics] Reading cached ledger counts failed: %v", err)
	} else if found {
		return counts, true, nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// Another request may have refreshed it meanwhile
	if found, err := cache.GetJSON(CacheKeyLedgerCounts, &counts); err == nil && found {
		return counts, true, nil
	}

	raw, err := s.ledger.CountByStatus(ctx)
	if err != nil {
		return nil, false, err
	}
	counts = make(map[string]int64, len(raw)+5)
	for _, status := range []models.WebhookEventStatus{
		models.WebhookEventStatusQueued,
		models.WebhookEventStatusProcessing,
		models.WebhookEventStatusProcessed,
		models.WebhookEventStatusFailed,
		models.WebhookEventStatusRetrying,
	} {
		counts[string(status)] = 0
	}
	for status, n := range raw {
		counts[string(status)] = n
	}

	if err := cache.SetJSON(CacheKeyLedgerCounts, counts, CacheExpiration); err != nil {
		log.Warnf("[Statistics] Caching ledger counts failed: %v", err)
	}
	return counts, false, nil
}

// Invalidate drops the cached ledger counts, e.g. after a manual replay.
func (s *Service) Invalidate() {
	if err := cache.Delete(CacheKeyLedgerCounts); err != nil {
		log.Warnf("[Statistics] Invalidating ledger counts failed: %v", err)
	}
}

// GetStatisticsData collects ledger counts, live queue sizes and edge counters.
func (s *Service) GetStatisticsData(ctx context.Context) (*StatisticsData, error) {
	ledger, cached, err := s.LedgerCounts(ctx)
	if err != nil {
		return nil, err
	}

	data := &StatisticsData{
		Ledger:      ledger,
		LedgerCache: cached,
		Queues:      make([]*jobqueue.Snapshot, 0, len(s.queues)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, q := range s.queues {
		snap, err := q.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		data.Queues = append(data.Queues, snap)
	}

	if traffic, err := counter.Read(ctx); err != nil {
		log.Warnf("[Statistics] Reading traffic counters failed: %v", err)
	} else {
		data.Traffic = traffic
	}
	return data, nil
}
