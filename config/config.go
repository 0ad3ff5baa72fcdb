package config

import "time"

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_BADGER StorageType = "badger"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	HttpPort    int
	StorageType StorageType

	RedisConfig  RedisStorageConfig
	BadgerConfig BadgerStorageConfig

	WorkerPoolSize int
	TickInterval   time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	ShutdownGrace  time.Duration

	// DedupWindow bounds how long handled-item keys are retained; it must
	// be long enough to absorb redelivery storms.
	DedupWindow    time.Duration
	DeliveryWindow time.Duration
	RunRetention   int
	PruneInterval  time.Duration

	WebhookSources []WebhookSourceConfig

	Debug bool
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}

type BadgerStorageConfig struct {
	Path string
}

// WebhookSourceConfig declares one inbound webhook source: how deliveries
// are authenticated, identified and mapped to workflow triggers.
type WebhookSourceConfig struct {
	Name string `mapstructure:"name"`

	// Secret for HMAC-SHA256 signature verification. Empty disables
	// verification for this source.
	Secret          string `mapstructure:"secret"`
	SignatureHeader string `mapstructure:"signature-header"`

	// Header carrying the source's delivery identifier; when absent the
	// delivery id is derived from a hash of the raw body.
	DeliveryIdHeader string `mapstructure:"delivery-id-header"`

	// Jsonpath into the payload selecting the event type, and the event
	// type to workflow mapping. Event types without a mapping are
	// acknowledged and ignored.
	EventTypePath string            `mapstructure:"event-type-path"`
	ItemIdPath    string            `mapstructure:"item-id-path"`
	Triggers      map[string]string `mapstructure:"triggers"`
}
