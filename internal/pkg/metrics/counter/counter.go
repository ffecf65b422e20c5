package counter

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillingSync/internal/pkg/cache"
)

const (
	receivedKey = "webhook:counters:received"
	outcomesKey = "webhook:counters:outcomes"
)

// Receipt outcomes counted at the HTTP edge.
const (
	OutcomeQueued           = "queued"
	OutcomeDuplicate        = "duplicate"
	OutcomeNotQueued        = "not_queued"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeMalformed        = "malformed"
	OutcomeUnavailable      = "ledger_unavailable"
)

// AddReceived increments the per event type delivery counter in Redis
func AddReceived(ctx context.Context, eventType string) error {
	if eventType == "" {
		eventType = "unknown"
	}
	return cache.GetClient().HIncrBy(ctx, receivedKey, eventType, 1).Err()
}

// AddOutcome increments how often deliveries ended with outcome
func AddOutcome(ctx context.Context, outcome string) error {
	return cache.GetClient().HIncrBy(ctx, outcomesKey, outcome, 1).Err()
}

// Counters are the totals since the keys were last reset.
type Counters struct {
	Received map[string]int64 `json:"received"`
	Outcomes map[string]int64 `json:"outcomes"`
}

func Read(ctx context.Context) (*Counters, error) {
	received, err := readHash(ctx, receivedKey)
	if err != nil {
		return nil, err
	}
	outcomes, err := readHash(ctx, outcomesKey)
	if err != nil {
		return nil, err
	}
	return &Counters{Received: received, Outcomes: outcomes}, nil
}

// Reset drops all counters.
func Reset(ctx context.Context) error {
	return cache.GetClient().Del(ctx, receivedKey, outcomesKey).Err()
}

func readHash(ctx context.Context, key string) (map[string]int64, error) {
	data, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for field, raw := range data {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}

// RedisCounter records edge traffic through the shared Redis client. Errors are logged only.
type RedisCounter struct{}

func (RedisCounter) Count(ctx context.Context, eventType, outcome string) {
	if eventType != "" {
		if err := AddReceived(ctx, eventType); err != nil {
			log.Debugf("[Counter] received counter: %v", err)
		}
	}
	if err := AddOutcome(ctx, outcome); err != nil {
		log.Debugf("[Counter] outcome counter: %v", err)
	}
}
