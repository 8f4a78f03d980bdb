package collectors

import (
	"context"
	"time"

	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/metrics"
)

// DriverSource is the part of driver.Registry the collector reads.
type DriverSource interface {
	Name() string
	RefCount() int
	Loaded() bool
}

// DriverCollector polls a driver registry for its reference count.
type DriverCollector struct {
	logger   logging.Logger
	source   DriverSource
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewDriverCollector creates a collector polling source every interval.
func NewDriverCollector(source DriverSource, interval time.Duration) *DriverCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DriverCollector{
		logger:   logging.GetLogger("metrics"),
		source:   source,
		interval: interval,
	}
}

// Start begins collecting driver metrics.
func (d *DriverCollector) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.run()
	return nil
}

// Stop stops the collector and waits for the polling goroutine.
func (d *DriverCollector) Stop() error {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	return nil
}

func (d *DriverCollector) run() {
	defer close(d.done)

	d.logger.Info("Starting driver metrics collection", "loader", d.source.Name(), "interval", d.interval)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.collect()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.collect()
		}
	}
}

func (d *DriverCollector) collect() {
	name := d.source.Name()
	metrics.SetDriverRefCount(name, d.source.RefCount())
	metrics.SetDriverLoaded(name, d.source.Loaded())
}
