package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// KafkaCfg configures the optional result stream and the data-change consumer.
type KafkaCfg struct {
	Brokers           string
	ResultsEnabled    bool
	ResultsTopic      string
	DataChangeEnabled bool
	DataChangeTopic   string
	GroupID           string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	ServiceURL       string
	LayersFile       string
	PageSize         int
	MaxPages         int
	FetchConcurrency int
	UpstreamTimeout  time.Duration
	Debounce         time.Duration
	TopN             int
	DiameterField    string
	BoundaryPath     string
	InitialBBox      string
	InitialZoom      float64
	RedisAddr        string
	RedisChannel     string
	Kafka            KafkaCfg
	Metrics          MetricsCfg
}

const (
	DefaultServiceURL  = "https://lsa4.geohub.sa.gov.au/server/rest/services/LSA/LocationSAViewerV32/MapServer"
	DefaultInitialBBox = "138.42,-35.05,138.78,-34.81"
)

func FromEnv() Config {
	pageSize := getint("PAGE_SIZE", 2000)
	if pageSize <= 0 {
		pageSize = 2000
	}
	conc := getint("FETCH_CONCURRENCY", 4)
	if conc < 1 {
		conc = 1
	}
	topN := getint("TOP_N", 12)
	if topN < 1 {
		topN = 12
	}

	brokers := getenv("KAFKA_BROKERS", "localhost:9092")
	return Config{
		Addr:             getenv("ADDR", ":8090"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogConsole:       getbool("LOG_CONSOLE", false),
		ServiceURL:       strings.TrimRight(getenv("SERVICE_URL", DefaultServiceURL), "/"),
		LayersFile:       getenv("LAYERS_FILE", ""),
		PageSize:         pageSize,
		MaxPages:         getint("MAX_PAGES", 500),
		FetchConcurrency: conc,
		UpstreamTimeout:  getduration("UPSTREAM_TIMEOUT", 30*time.Second),
		Debounce:         getduration("DEBOUNCE", 350*time.Millisecond),
		TopN:             topN,
		DiameterField:    getenv("DIAMETER_FIELD", "nominaldiameter"),
		BoundaryPath:     getenv("BOUNDARY_PATH", ""),
		InitialBBox:      getenv("INITIAL_BBOX", DefaultInitialBBox),
		InitialZoom:      getfloat("INITIAL_ZOOM", 12),
		RedisAddr:        getenv("REDIS_ADDR", ""),
		RedisChannel:     getenv("REDIS_CHANNEL", "mains-analytics.results"),
		Kafka: KafkaCfg{
			Brokers:           brokers,
			ResultsEnabled:    getbool("RESULTS_ENABLED", false),
			ResultsTopic:      getenv("RESULTS_TOPIC", "mains-analytics.results"),
			DataChangeEnabled: getbool("DATACHANGE_ENABLED", false),
			DataChangeTopic:   getenv("DATACHANGE_TOPIC", "feature-datachange"),
			GroupID:           getenv("KAFKA_GROUP_ID", "mains-analytics"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// BrokerList splits the comma separated KAFKA_BROKERS value.
func (k KafkaCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
