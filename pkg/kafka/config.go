package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	applogger "Calibra/pkg/logger"
)

// ProducerConfig is the writer setup behind Producer. Outcome and transition
// events are keyed by pattern, so HashByKey keeps one pattern's events in
// order on a single partition.
type ProducerConfig struct {
	Brokers     []string
	Compression string

	RequiredAcks int
	MaxAttempts  int
	Async        bool
	HashByKey    bool

	BatchSize    int
	BatchBytes   int
	BatchTimeout time.Duration

	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

type ProducerOption func(*ProducerConfig)

func defaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		Compression:  "snappy",
		RequiredAcks: -1,
		MaxAttempts:  3,
		HashByKey:    true,
		BatchSize:    100,
		BatchBytes:   1 << 20,
		BatchTimeout: time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

// WithCompression accepts none, gzip, snappy, lz4 or zstd.
func WithCompression(codec string) ProducerOption {
	return func(c *ProducerConfig) { c.Compression = strings.ToLower(strings.TrimSpace(codec)) }
}

// WithDelivery sets the ack level (-1 all, 0 none, 1 leader) and how many
// times the writer retries a batch. attempts < 1 keeps the default.
func WithDelivery(acks, attempts int) ProducerOption {
	return func(c *ProducerConfig) {
		c.RequiredAcks = acks
		if attempts > 0 {
			c.MaxAttempts = attempts
		}
	}
}

// WithBatching bounds a batch by message count, byte size and linger time.
// Zero values keep the defaults.
func WithBatching(size, bytes int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if size > 0 {
			c.BatchSize = size
		}
		if bytes > 0 {
			c.BatchBytes = bytes
		}
		if linger > 0 {
			c.BatchTimeout = linger
		}
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if write > 0 {
			c.WriteTimeout = write
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

// WithAsync makes writes fire-and-forget. Errors then only show up in the
// producer metrics.
func WithAsync(async bool) ProducerOption {
	return func(c *ProducerConfig) { c.Async = async }
}

// WithHashByKey switches between key-hash and least-bytes balancing.
func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) { c.HashByKey = hash }
}

func (c *ProducerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka producer: brokers are required")
	}
	switch c.RequiredAcks {
	case -1, 0, 1:
	default:
		return fmt.Errorf("kafka producer: required acks %d not in {-1,0,1}", c.RequiredAcks)
	}
	switch c.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("kafka producer: unknown compression %q", c.Compression)
	}
	return nil
}

// codec maps the validated compression name to the writer codec. Empty and
// "none" disable compression.
func (c *ProducerConfig) codec() kafka.Compression {
	switch c.Compression {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	}
	return 0
}

// ConsumerConfig is the reader and worker pool setup behind Consumer.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	StartOffset int64

	WorkerCount int
	BufferSize  int

	RetryMax   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	DLQTopic   string

	MinBytes int
	MaxBytes int

	Logger *applogger.Logger
}

type ConsumerOption func(*ConsumerConfig)

func defaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		GroupID:     "calibra",
		StartOffset: kafka.FirstOffset,
		WorkerCount: 1,
		BufferSize:  10,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	}
}

// WithConsumerGroup sets the brokers and the consumer group. An empty group
// keeps "calibra".
func WithConsumerGroup(brokers []string, groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

// WithConsumerStartAtLatest makes a new group skip the backlog. Quotes are
// only useful while fresh.
func WithConsumerStartAtLatest(latest bool) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.StartOffset = kafka.FirstOffset
		if latest {
			c.StartOffset = kafka.LastOffset
		}
	}
}

// WithConsumerConcurrency sizes the worker pool and the fetch buffer in
// front of it. Non-positive values keep the defaults.
func WithConsumerConcurrency(workers, buffer int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if workers > 0 {
			c.WorkerCount = workers
		}
		if buffer > 0 {
			c.BufferSize = buffer
		}
	}
}

// WithConsumerRetry sets how often a failing handler is retried, with
// jittered exponential backoff between min and max.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax, c.BackoffMin, c.BackoffMax = max, backoffMin, backoffMax
	}
}

// WithConsumerDLQ parks messages that exhaust their retries on topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) { c.MinBytes, c.MaxBytes = minBytes, maxBytes }
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

func (c *ConsumerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka consumer: brokers are required")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("kafka consumer: negative retry_max %d", c.RetryMax)
	}
	if c.MaxBytes > 0 && c.MinBytes > c.MaxBytes {
		return fmt.Errorf("kafka consumer: min_bytes %d above max_bytes %d", c.MinBytes, c.MaxBytes)
	}
	return nil
}
