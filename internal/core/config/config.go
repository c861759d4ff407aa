package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/ows-codec/internal/core/ogc/wms"
)

type ChangesCfg struct {
	Enabled   bool
	Brokers   string
	Topic     string
	QueueSize int
	// MaxCells caps the H3 cells carried per event; larger covers are coarsened.
	MaxCells int
	// Consume runs the invalidation consumer. GroupID must be unique per
	// instance so every instance sees every event.
	Consume bool
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	LogSampleN      int
	WFSURL          string
	WFSVersion      string
	UpstreamTimeout time.Duration
	LayersFile      string
	RedisAddr       string
	CacheEnabled    bool
	CacheL1Size     int
	CacheOpTimeout  time.Duration
	CacheTTLDefault time.Duration
	CacheTTLOvr     map[string]time.Duration
	H3Res           int
	AxisSwapRanges  []wms.CodeRange
	Changes         ChangesCfg
	Metrics         MetricsCfg
}

func FromEnv() Config {
	res := getint("H3_RES", 8)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:            getenv("ADDR", ":8090"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogConsole:      getbool("LOG_CONSOLE", false),
		LogSampleN:      getint("LOG_SAMPLE_N", 0),
		WFSURL:          getenv("WFS_URL", "http://localhost:8080/geoserver/ows"),
		WFSVersion:      getenv("WFS_VERSION", "1.1.0"),
		UpstreamTimeout: getduration("UPSTREAM_TIMEOUT", 15*time.Second),
		LayersFile:      getenv("LAYERS_FILE", "layers.yaml"),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		CacheEnabled:    getbool("CACHE_ENABLED", false),
		CacheL1Size:     getint("CACHE_L1_SIZE", 1024),
		CacheOpTimeout:  getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheTTLDefault: getduration("CACHE_TTL_DEFAULT", 60*time.Second),
		CacheTTLOvr:     parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
		H3Res:           res,
		AxisSwapRanges:  parseCodeRanges(getenv("AXIS_SWAP_EPSG", "")),
		Changes: ChangesCfg{
			Enabled:   getbool("CHANGES_ENABLED", false),
			Brokers:   getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:     getenv("KAFKA_TOPIC", "feature-changes"),
			QueueSize: getint("CHANGES_QUEUE", 1024),
			MaxCells:  getint("CHANGES_MAX_CELLS", 256),
			Consume:   getbool("CHANGES_CONSUME", false),
			GroupID:   getenv("KAFKA_GROUP_ID", defaultGroupID()),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// TTLFor returns the cache ttl for layer, falling back to the default.
func (c Config) TTLFor(layer string) time.Duration {
	if d, ok := c.CacheTTLOvr[layer]; ok && d > 0 {
		return d
	}
	return c.CacheTTLDefault
}

func defaultGroupID() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "owsgateway"
	}
	return "owsgateway-" + h
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

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "layer=5m,other=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}

// parse "4326,5000-5010" into code ranges; bad entries are skipped
func parseCodeRanges(s string) []wms.CodeRange {
	var out []wms.CodeRange
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		from, to, isRange := strings.Cut(p, "-")
		a, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil {
			continue
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(strings.TrimSpace(to)); err != nil {
				continue
			}
		}
		out = append(out, wms.CodeRange{From: a, To: b})
	}
	return out
}
