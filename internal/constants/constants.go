package constants

import "time"

// QuotaCosts are the YouTube Data API v3 unit costs per operation.
var QuotaCosts = struct {
	ChannelLookup int
	VideoListPage int
	VideoDetails  int
	Search        int
}{
	ChannelLookup: 1,
	VideoListPage: 1,
	VideoDetails:  1,
	Search:        100,
}

var CacheTTL = struct {
	ChannelResolution time.Duration
	LanguageListing   time.Duration
	BatchResult       time.Duration
}{
	ChannelResolution: 20 * time.Minute,
	LanguageListing:   2 * time.Hour,
	BatchResult:       24 * time.Hour,
}

var RetryConfig = struct {
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	RateLimitMaxAttempts int
}{
	MaxAttempts:          3,
	BaseDelay:            1 * time.Second,
	MaxDelay:             30 * time.Second,
	RateLimitMaxAttempts: 5,
}

var LimiterConfig = struct {
	Window         int
	HighErrorRatio float64
	LowErrorRatio  float64
	GrowthFactor   float64
}{
	Window:         50,
	HighErrorRatio: 0.2,
	LowErrorRatio:  0.02,
	GrowthFactor:   1.1,
}

var MemoryGuardConfig = struct {
	SamplePeriod time.Duration
	AdmitTimeout time.Duration
}{
	SamplePeriod: 250 * time.Millisecond,
	AdmitTimeout: 30 * time.Second,
}

var CheckpointConfig = struct {
	SchemaVersion   int
	ChannelThrottle time.Duration
}{
	SchemaVersion:   1,
	ChannelThrottle: 500 * time.Millisecond,
}

var EventBusConfig = struct {
	SubscriberBuffer int
	HighWaterMark    int
}{
	SubscriberBuffer: 256,
	HighWaterMark:    192,
}

var TranscriptConfig = struct {
	FetchTimeout            time.Duration
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration
}{
	FetchTimeout:            60 * time.Second,
	BreakerFailureThreshold: 5,
	BreakerResetTimeout:     60 * time.Second,
}

var MetadataConfig = struct {
	PageSize int64
}{
	PageSize: 50,
}

var WebSocketFeedConfig = struct {
	WriteTimeout time.Duration
	ClientBuffer int
}{
	WriteTimeout: 5 * time.Second,
	ClientBuffer: 64,
}
