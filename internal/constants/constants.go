package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaDialTimeout  = 5 * time.Second
)

const (
	ShutdownTimeout   = 5 * time.Second
	WorkerJoinTimeout = 30 * time.Second
)

const (
	CacheKeyPrefixDedup = "dedup:"
)

const (
	DLQReasonHeader    = "x-dlq-reason"
	DLQSourceHeader    = "x-dlq-source-queue"
	DLQTimestampHeader = "x-dlq-timestamp"
)

const (
	DefaultAuditCapacity = 1000
	DefaultSummaryLen    = 200
)

const (
	SourceQueue = "queue"
)

const (
	DefaultProviderTimeout = 30 * time.Second
)
