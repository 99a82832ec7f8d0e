package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arsdragonfly/fluxduct/pkg/store"
	redistransport "github.com/arsdragonfly/fluxduct/pkg/transport/redis"
)

const (
	defaultAddr          = "127.0.0.1:8090"
	defaultTransport     = "http"
	defaultRedisAddr     = "127.0.0.1:6379"
	defaultBuffer        = 256
	defaultPruneInterval = time.Hour
	defaultWebAssetsMode = "embedded"
	defaultReplaySession = "latest"
)

type Config struct {
	Addr      string
	Transport string // http, redis, socketio, replay
	Buffer    int

	RedisAddr    string
	RedisEvents  string
	RedisControl string

	SocketIOURL       string
	SocketIONamespace string
	SocketIOInsecure  bool

	JournalPath   string // empty disables the journal
	Retention     time.Duration
	PruneInterval time.Duration
	ArchiveDir    string // expired sessions are exported here before pruning
	SnapshotEvery time.Duration
	ReplaySession string // session id, "latest", or an archive key
	ReplayPace    time.Duration

	WebAssetsMode string
	WebDir        string
	TLSCertFile   string
	TLSKeyFile    string
	LogLevel      slog.Level
	LogFormat     string
}

// fileConfig is the optional YAML configuration file. Empty fields keep the
// built-in defaults; environment variables and flags override it.
type fileConfig struct {
	Addr      string `yaml:"addr"`
	Transport string `yaml:"transport"`
	Buffer    int    `yaml:"buffer"`
	Redis     struct {
		Addr    string `yaml:"addr"`
		Events  string `yaml:"events_channel"`
		Control string `yaml:"control_channel"`
	} `yaml:"redis"`
	SocketIO struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
		Insecure  bool   `yaml:"insecure_skip_verify"`
	} `yaml:"socketio"`
	Journal struct {
		Path          string        `yaml:"path"`
		Retention     time.Duration `yaml:"retention"`
		PruneInterval time.Duration `yaml:"prune_interval"`
		ArchiveDir    string        `yaml:"archive_dir"`
		Snapshots     time.Duration `yaml:"snapshot_interval"`
	} `yaml:"journal"`
	Replay struct {
		Session string        `yaml:"session"`
		Pace    time.Duration `yaml:"pace"`
	} `yaml:"replay"`
	Web struct {
		Assets string `yaml:"assets"`
		Dir    string `yaml:"dir"`
	} `yaml:"web"`
	TLS struct {
		Cert string `yaml:"cert"`
		Key  string `yaml:"key"`
	} `yaml:"tls"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	var file fileConfig
	if path := configPath(args); path != "" {
		data, err := os.ReadFile(resolvePath(path, cwd))
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	addr := addrFromEnv(orDefault(file.Addr, defaultAddr))
	transport := envOrDefault("FLUXDUCT_TRANSPORT", orDefault(file.Transport, defaultTransport))
	buffer := file.Buffer
	if buffer == 0 {
		buffer = defaultBuffer
	}
	if v := os.Getenv("FLUXDUCT_BUFFER"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FLUXDUCT_BUFFER: %w", err)
		}
		buffer = parsed
	}

	redisAddr := envOrDefault("FLUXDUCT_REDIS_ADDR", orDefault(file.Redis.Addr, defaultRedisAddr))
	redisEvents := envOrDefault("FLUXDUCT_REDIS_EVENTS", orDefault(file.Redis.Events, redistransport.DefaultEventsChannel))
	redisControl := envOrDefault("FLUXDUCT_REDIS_CONTROL", orDefault(file.Redis.Control, redistransport.DefaultControlChannel))

	sioURL := envOrDefault("FLUXDUCT_SOCKETIO_URL", file.SocketIO.URL)
	sioNamespace := envOrDefault("FLUXDUCT_SOCKETIO_NAMESPACE", orDefault(file.SocketIO.Namespace, "/"))

	journalPath := envOrDefault("FLUXDUCT_JOURNAL_PATH", file.Journal.Path)
	retention, err := durationFromEnv("FLUXDUCT_RETENTION", file.Journal.Retention)
	if err != nil {
		return Config{}, err
	}
	pruneInterval, err := durationFromEnv("FLUXDUCT_PRUNE_INTERVAL", orDefaultDuration(file.Journal.PruneInterval, defaultPruneInterval))
	if err != nil {
		return Config{}, err
	}
	archiveDir := envOrDefault("FLUXDUCT_ARCHIVE_DIR", file.Journal.ArchiveDir)
	snapshotEvery, err := durationFromEnv("FLUXDUCT_SNAPSHOT_INTERVAL", file.Journal.Snapshots)
	if err != nil {
		return Config{}, err
	}
	replaySession := envOrDefault("FLUXDUCT_REPLAY_SESSION", orDefault(file.Replay.Session, defaultReplaySession))
	replayPace, err := durationFromEnv("FLUXDUCT_REPLAY_PACE", file.Replay.Pace)
	if err != nil {
		return Config{}, err
	}

	webAssetsMode := envOrDefault("FLUXDUCT_WEB_ASSETS_MODE", orDefault(file.Web.Assets, defaultWebAssetsMode))
	webDir := envOrDefault("FLUXDUCT_WEB_DIR", file.Web.Dir)
	tlsCert := envOrDefault("FLUXDUCT_TLS_CERT", file.TLS.Cert)
	tlsKey := envOrDefault("FLUXDUCT_TLS_KEY", file.TLS.Key)
	logLevel := envOrDefault("FLUXDUCT_LOG_LEVEL", orDefault(file.Log.Level, "info"))
	logFormat := envOrDefault("FLUXDUCT_LOG_FORMAT", orDefault(file.Log.Format, "json"))

	flagSet := flag.NewFlagSet("fluxductd", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.String("config", "", "path to YAML config file")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagTransport := flagSet.String("transport", transport, "event source: http|redis|socketio|replay")
	flagBuffer := flagSet.Int("buffer", buffer, "inbound event buffer size")
	flagRedisAddr := flagSet.String("redis-addr", redisAddr, "Redis address for transport=redis")
	flagRedisEvents := flagSet.String("redis-events", redisEvents, "Redis channel carrying graph events")
	flagRedisControl := flagSet.String("redis-control", redisControl, "Redis channel for outbound events")
	flagSIOURL := flagSet.String("socketio-url", sioURL, "Socket.IO endpoint for transport=socketio")
	flagSIONamespace := flagSet.String("socketio-namespace", sioNamespace, "Socket.IO namespace")
	flagSIOInsecure := flagSet.Bool("socketio-insecure", file.SocketIO.Insecure || os.Getenv("FLUXDUCT_SOCKETIO_INSECURE") == "true", "skip TLS verification for Socket.IO")
	flagJournal := flagSet.String("journal", journalPath, "path to SQLite event journal (empty disables)")
	flagRetention := flagSet.String("retention", retention.String(), "delete journal sessions older than this (0 keeps all)")
	flagPruneInterval := flagSet.String("prune-interval", pruneInterval.String(), "journal prune interval")
	flagArchiveDir := flagSet.String("archive-dir", archiveDir, "directory expired journal sessions are archived to")
	flagSnapshotEvery := flagSet.String("snapshot-interval", snapshotEvery.String(), "write graph snapshots to archive-dir this often (0 disables)")
	flagReplaySession := flagSet.String("replay-session", replaySession, "session id to replay, 'latest', or an archive key")
	flagReplayPace := flagSet.String("replay-pace", replayPace.String(), "delay between replayed events")
	flagWebAssets := flagSet.String("web-assets", webAssetsMode, "web assets mode: embedded|fs|off")
	flagWebDir := flagSet.String("web-dir", webDir, "web assets directory when web-assets=fs")
	flagTLSCert := flagSet.String("tls-cert", tlsCert, "TLS certificate file")
	flagTLSKey := flagSet.String("tls-key", tlsKey, "TLS key file")
	flagLogLevel := flagSet.String("log-level", logLevel, "log level: debug|info|warn|error")
	flagLogFormat := flagSet.String("log-format", logFormat, "log format: json|text")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	retentionParsed, err := time.ParseDuration(*flagRetention)
	if err != nil {
		return Config{}, fmt.Errorf("invalid retention: %w", err)
	}
	pruneIntervalParsed, err := time.ParseDuration(*flagPruneInterval)
	if err != nil {
		return Config{}, fmt.Errorf("invalid prune interval: %w", err)
	}
	snapshotEveryParsed, err := time.ParseDuration(*flagSnapshotEvery)
	if err != nil {
		return Config{}, fmt.Errorf("invalid snapshot interval: %w", err)
	}
	replayPaceParsed, err := time.ParseDuration(*flagReplayPace)
	if err != nil {
		return Config{}, fmt.Errorf("invalid replay pace: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*flagLogLevel)); err != nil {
		return Config{}, fmt.Errorf("invalid log level: %w", err)
	}

	config := Config{
		Addr:              strings.TrimSpace(*flagAddr),
		Transport:         strings.ToLower(strings.TrimSpace(*flagTransport)),
		Buffer:            *flagBuffer,
		RedisAddr:         strings.TrimSpace(*flagRedisAddr),
		RedisEvents:       *flagRedisEvents,
		RedisControl:      *flagRedisControl,
		SocketIOURL:       strings.TrimSpace(*flagSIOURL),
		SocketIONamespace: *flagSIONamespace,
		SocketIOInsecure:  *flagSIOInsecure,
		JournalPath:       resolvePath(*flagJournal, cwd),
		Retention:         retentionParsed,
		PruneInterval:     pruneIntervalParsed,
		ArchiveDir:        resolvePath(*flagArchiveDir, cwd),
		SnapshotEvery:     snapshotEveryParsed,
		ReplaySession:     strings.TrimSpace(*flagReplaySession),
		ReplayPace:        replayPaceParsed,
		WebAssetsMode:     normalizeWebAssetsMode(*flagWebAssets),
		WebDir:            strings.TrimSpace(*flagWebDir),
		TLSCertFile:       resolvePath(*flagTLSCert, cwd),
		TLSKeyFile:        resolvePath(*flagTLSKey, cwd),
		LogLevel:          level,
		LogFormat:         strings.ToLower(strings.TrimSpace(*flagLogFormat)),
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}
	if config.WebAssetsMode == "fs" {
		config.WebDir = resolvePath(config.WebDir, cwd)
	}
	return config, nil
}

func (c Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr cannot be empty")
	}
	if c.Buffer < 0 {
		return errors.New("buffer cannot be negative")
	}

	switch c.Transport {
	case "http":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("transport=redis requires redis-addr")
		}
		if c.RedisEvents == "" || c.RedisControl == "" {
			return errors.New("transport=redis requires both channels")
		}
	case "socketio":
		if c.SocketIOURL == "" {
			return errors.New("transport=socketio requires socketio-url")
		}
	case "replay":
		if c.JournalPath == "" {
			return errors.New("transport=replay requires journal")
		}
		if c.ReplaySession == "" {
			return errors.New("transport=replay requires replay-session")
		}
	default:
		return fmt.Errorf("unsupported transport: %s", c.Transport)
	}

	if c.Retention < 0 {
		return errors.New("retention cannot be negative")
	}
	if c.Retention > 0 && c.PruneInterval <= 0 {
		return errors.New("prune interval must be positive")
	}
	if c.ArchiveDir != "" && c.JournalPath == "" && c.SnapshotEvery == 0 {
		return errors.New("archive-dir requires journal or snapshot-interval")
	}
	if c.SnapshotEvery < 0 {
		return errors.New("snapshot interval cannot be negative")
	}
	if c.SnapshotEvery > 0 && c.ArchiveDir == "" {
		return errors.New("snapshots require archive-dir")
	}
	if strings.HasSuffix(c.ReplaySession, store.ArchiveSuffix) && c.ArchiveDir == "" {
		return errors.New("replaying an archived session requires archive-dir")
	}
	if c.ReplayPace < 0 {
		return errors.New("replay pace cannot be negative")
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("tls-cert and tls-key must be set together")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("unsupported log format: %s", c.LogFormat)
	}

	switch c.WebAssetsMode {
	case "embedded", "off":
	case "fs":
		if c.WebDir == "" {
			return errors.New("web-assets=fs requires web-dir")
		}
	default:
		return fmt.Errorf("unsupported web-assets mode: %s", c.WebAssetsMode)
	}
	return nil
}

// configPath finds -config in args before the full flag set is parsed, so
// the file can supply the flag defaults.
func configPath(args []string) string {
	path := os.Getenv("FLUXDUCT_CONFIG")
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			path = value
		} else if i+1 < len(args) {
			path = args[i+1]
			i++
		}
	}
	return path
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func orDefaultDuration(value, fallback time.Duration) time.Duration {
	if value != 0 {
		return value
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("FLUXDUCT_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("FLUXDUCT_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}

func normalizeWebAssetsMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "embedded":
		return "embedded"
	case "fs", "dir", "directory":
		return "fs"
	case "off", "disabled", "none":
		return "off"
	default:
		return strings.ToLower(strings.TrimSpace(mode))
	}
}
