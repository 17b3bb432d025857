package billing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/cadencepay/cadence/app/models"
	"github.com/cadencepay/cadence/internal/pkg/ledger"
)

const (
	defaultConsumerInterval = 10 * time.Second
	defaultConsumerBatch    = 50
)

// Consumer drains the webhook event queue: it hands each queued event to the
// reconciliation engine and records the outcome. Events the engine defers
// (retry-later) stay in the queue and are picked up on a later pass.
type Consumer struct {
	store  ledger.Store
	engine *Engine

	Interval  time.Duration
	BatchSize int

	mutex   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer builds a queue consumer with a 10 second poll interval.
func NewConsumer(store ledger.Store, engine *Engine) *Consumer {
	return &Consumer{
		store:     store,
		engine:    engine,
		Interval:  defaultConsumerInterval,
		BatchSize: defaultConsumerBatch,
	}
}

// Start launches the background polling loop. Safe to call once; a second
// call while running is a no-op.
func (c *Consumer) Start() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})

	c.wg.Add(1)
	go c.loop()
	log.Info("[Consumer] webhook queue consumer started")
}

// Stop signals the loop to finish and waits for the in-flight pass.
func (c *Consumer) Stop() {
	c.mutex.Lock()
	if !c.running {
		c.mutex.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mutex.Unlock()

	c.wg.Wait()
	log.Info("[Consumer] webhook queue consumer stopped")
}

func (c *Consumer) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if _, err := c.ProcessOnce(context.Background()); err != nil {
				log.Errorf("[Consumer] queue pass failed: %v", err)
			}
		}
	}
}

// ProcessOnce runs a single queue pass and reports how many events reached a
// terminal status. Exported for tests and for synchronous draining after an
// ingest.
func (c *Consumer) ProcessOnce(ctx context.Context) (int, error) {
	events, err := c.store.ListNewWebhookEvents(ctx, c.BatchSize)
	if err != nil {
		return 0, err
	}

	finished := 0
	for i := range events {
		event := &events[i]
		outcome := c.processEvent(ctx, event)

		var processedAt *time.Time
		if outcome.Status != OutcomeRetryLater {
			now := time.Now()
			processedAt = &now
			finished++
		}
		message := models.TruncateWebhookMessage(outcome.Message)
		if err := c.store.FinishWebhookEvent(ctx, event.ID, outcome.QueueStatus(), message, processedAt); err != nil {
			log.Errorf("[Consumer] event %d: recording outcome: %v", event.ID, err)
			continue
		}

		switch outcome.Status {
		case OutcomeError:
			log.Errorf("[Consumer] event %d: %s", event.ID, outcome.Message)
		case OutcomeRetryLater:
			log.Debugf("[Consumer] event %d deferred: %s", event.ID, outcome.Message)
		default:
			log.Infof("[Consumer] event %d: %s", event.ID, outcome.Message)
		}
	}
	return finished, nil
}

func (c *Consumer) processEvent(ctx context.Context, event *models.WebhookEvent) Outcome {
	var item NotificationRequestItem
	if err := json.Unmarshal([]byte(event.PayloadJSON), &item); err != nil {
		return Errorf(err, "unreadable queued payload for event %d", event.ID)
	}
	return c.engine.Process(ctx, &item)
}
