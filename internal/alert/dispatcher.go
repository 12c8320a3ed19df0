package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// deliveryTimeout bounds one event's delivery to one destination, retries
// included.
var deliveryTimeout = 15 * time.Second

// Dispatcher fans out alert events to the destinations subscribed to their
// decision. A nil *Dispatcher drops every event.
type Dispatcher struct {
	configs []AlertConfig
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher returns nil when there is nowhere to deliver.
func NewDispatcher(configs []AlertConfig, logger *slog.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{configs: configs, logger: logger.With("component", "alert")}
}

// Dispatch delivers event in the background and returns immediately.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if !cfg.Wants(event.Decision) {
			continue
		}
		d.wg.Add(1)
		go d.deliver(cfg, event)
	}
}

func (d *Dispatcher) deliver(cfg AlertConfig, event AlertEvent) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if err := Send(ctx, cfg, event); err != nil {
		d.logger.Warn("alert delivery failed",
			"url", cfg.URL,
			"decision", event.Decision,
			"rule_id", event.RuleID,
			"error", err,
		)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
