package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Publisher ships collected batches, in production to a Kafka topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush period, default 30s
	CountThreshold int           // distinct entries that force an early flush, default 100
	PublishTimeout time.Duration // default 10s
	Topic          string
	Publisher      Publisher
}

// AggregatedLogEntry is one distinct (level, message, fields, caller) tuple
// and how often it fired within a flush window.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds repeated entries into counted records. A persistence
// path failing on every outcome yields one record per window.
type LogCollector struct {
	cfg CollectionConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[uint64]*AggregatedLogEntry

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	cfg := *config
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	c := &LogCollector{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[uint64]*AggregatedLogEntry),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	key := entryKey(level, message, fields, caller)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level: level, Message: message, Fields: fields, Caller: caller,
			Count: 1, FirstSeen: now, LastSeen: now,
		}
	}
	full := len(c.entries) >= c.cfg.CountThreshold
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// entryKey hashes the JSON form; json.Marshal sorts map keys.
func entryKey(level, message string, fields map[string]interface{}, caller string) uint64 {
	data, _ := json.Marshal([]interface{}{level, message, fields, caller})
	return xxhash.Sum64(data)
}

func (c *LogCollector) loop() {
	defer close(c.done)
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
		case <-c.kick:
		case <-c.stop:
			c.publish()
			return
		}
		c.publish()
	}
}

func (c *LogCollector) publish() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		// the logger cannot log its own delivery failures
		fmt.Fprintf(os.Stderr, "log collector: %v\n", err)
	}
}

// Flush publishes and clears the current window, oldest entry first. Without
// a publisher the window is dropped.
func (c *LogCollector) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.entries) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		batch = append(batch, *e)
	}
	c.entries = make(map[uint64]*AggregatedLogEntry)
	c.mu.Unlock()

	if c.cfg.Publisher == nil {
		return nil
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		return fmt.Errorf("publish %d entries to %s: %w", len(batch), c.cfg.Topic, err)
	}
	return nil
}

// Close publishes what is left and stops the flush loop.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.stop) })
	<-c.done
}
