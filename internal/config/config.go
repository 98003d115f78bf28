package config

import "github.com/kelseyhightower/envconfig"

type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// Execution caps. Test mode always caps at TestAudienceCap.
	AudienceCap     int `envconfig:"AUDIENCE_CAP" default:"1000"`
	TestAudienceCap int `envconfig:"TEST_AUDIENCE_CAP" default:"5"`

	// Resend
	ResendAPIKey  string `envconfig:"RESEND_API_KEY" required:"true"`
	ResendFrom    string `envconfig:"RESEND_FROM" required:"true"`
	ResendBaseURL string `envconfig:"RESEND_BASE_URL" default:"https://api.resend.com"`

	// Twilio
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID" required:"true"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" required:"true"`
	TwilioFromNumber string `envconfig:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL    string `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
}

type DispatcherConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// Shared secret for POST /v1/queue/process, presented as a bearer token
	// by the external scheduler.
	QueueSecret string `envconfig:"QUEUE_PROCESS_SECRET" required:"true"`
	BatchSize   int    `envconfig:"DISPATCH_BATCH_SIZE" default:"100"`

	// Resend
	ResendAPIKey  string `envconfig:"RESEND_API_KEY" required:"true"`
	ResendFrom    string `envconfig:"RESEND_FROM" required:"true"`
	ResendBaseURL string `envconfig:"RESEND_BASE_URL" default:"https://api.resend.com"`

	// Twilio
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID" required:"true"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" required:"true"`
	TwilioFromNumber string `envconfig:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL    string `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`

	// Provider protection (per pod).
	ProviderRPSPerPod float64 `envconfig:"PROVIDER_RPS_PER_POD" default:"10"`
	ProviderBurst     int     `envconfig:"PROVIDER_BURST" default:"20"`
}

type WebhookConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// Resend webhook signing secret. When empty, signature verification is
	// skipped (local dev only).
	ResendWebhookSecret string `envconfig:"RESEND_WEBHOOK_SECRET"`

	// Twilio signature verification
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" required:"true"`
	PublicWebhookURL string `envconfig:"PUBLIC_WEBHOOK_URL" required:"true"` // must match EXACT URL configured in Twilio

	// Optional SQS buffering for Twilio status callbacks. When the queue URL
	// is empty, callbacks are applied to the ledger inline.
	AWSRegion             string `envconfig:"AWS_REGION"`
	WebhookEventsQueueURL string `envconfig:"WEBHOOK_EVENTS_QUEUE_URL"`
	LocalstackEndpoint    string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type WebhookProcessorConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	AWSRegion             string `envconfig:"AWS_REGION" required:"true"`
	WebhookEventsQueueURL string `envconfig:"WEBHOOK_EVENTS_QUEUE_URL" required:"true"`
	LocalstackEndpoint    string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime           int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs            int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout         int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	ProcessorConcurrency  int    `envconfig:"PROCESSOR_CONCURRENCY" default:"10"`

	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadDispatcher() DispatcherConfig {
	var cfg DispatcherConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhookProcessor() WebhookProcessorConfig {
	var cfg WebhookProcessorConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
