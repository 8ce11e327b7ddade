package telemetry

// Config controls trace export. Export is off by default so local runs do not
// need a collector; propagation is always installed.
type Config struct {
	Enabled      bool    `env:"OTEL_ENABLED" envDefault:"false"`
	ServiceName  string  `env:"OTEL_SERVICE_NAME" envDefault:"mockmailer"`
	OTLPEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	SampleRatio  float64 `env:"OTEL_SAMPLING_RATIO" envDefault:"1"`
}
