package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type RuntimeConfig struct {
	Bind             string
	Port             string
	CdpURL           string
	Token            string
	StateDir         string
	Headless         bool
	ProfileDir       string
	ChromeBinary     string
	ChromeExtraFlags string
	ActionTimeout    time.Duration
	NavigateTimeout  time.Duration
	ShutdownTimeout  time.Duration

	// Relay behaviour.
	ChunkSize     int
	SendTimeout   time.Duration
	SendRetries   int
	RetryDelay    time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
	WaitTimeout   time.Duration
	WaitInterval  time.Duration
	ResultTimeout time.Duration
	SettleDelay   time.Duration

	// Sites.
	AssistantURL string
	PublisherURL string
	ReaderAPI    string
	ReaderPrefix string
	SitesFile    string
	StorePath    string
	LogLevel     string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envDurationOr accepts Go durations ("90s") or bare seconds ("90").
func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

func (c *RuntimeConfig) ListenAddr() string {
	return c.Bind + ":" + c.Port
}

// BaseURL is where CLI subcommands reach a running daemon.
func (c *RuntimeConfig) BaseURL() string {
	host := c.Bind
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + host + ":" + c.Port
}

type FileConfig struct {
	Port          string `json:"port"`
	CdpURL        string `json:"cdpUrl,omitempty"`
	Token         string `json:"token,omitempty"`
	StateDir      string `json:"stateDir"`
	ProfileDir    string `json:"profileDir"`
	Headless      *bool  `json:"headless,omitempty"`
	TimeoutSec    int    `json:"timeoutSec,omitempty"`
	NavigateSec   int    `json:"navigateSec,omitempty"`
	ChunkSize     int    `json:"chunkSize,omitempty"`
	ResultSec     int    `json:"resultSec,omitempty"`
	AssistantURL  string `json:"assistantUrl,omitempty"`
	TruyencityURL string `json:"truyencityUrl,omitempty"`
	ReaderAPI     string `json:"readerApi,omitempty"`
	SitesFile     string `json:"sitesFile,omitempty"`
}

const defaultAssistantURL = "https://chatgpt.com/g/g-6749b358a57c8191a95344323c84c1e1-dich-truyen-tieng-trung-do-thi"

func Load() *RuntimeConfig {
	stateDir := envOr("RELAY_STATE_DIR", filepath.Join(homeDir(), ".novelrelay"))
	cfg := &RuntimeConfig{
		Bind:             envOr("RELAY_BIND", "127.0.0.1"),
		Port:             envOr("RELAY_PORT", "9870"),
		CdpURL:           os.Getenv("CDP_URL"),
		Token:            os.Getenv("RELAY_TOKEN"),
		StateDir:         stateDir,
		Headless:         envBoolOr("RELAY_HEADLESS", false),
		ProfileDir:       envOr("RELAY_PROFILE", filepath.Join(homeDir(), ".novelrelay", "chrome-profile")),
		ChromeBinary:     os.Getenv("CHROME_BINARY"),
		ChromeExtraFlags: os.Getenv("CHROME_FLAGS"),
		ActionTimeout:    envDurationOr("RELAY_TIMEOUT", 15*time.Second),
		NavigateTimeout:  envDurationOr("RELAY_NAV_TIMEOUT", 30*time.Second),
		ShutdownTimeout:  10 * time.Second,

		ChunkSize:     envIntOr("RELAY_CHUNK_SIZE", 4000),
		SendTimeout:   envDurationOr("RELAY_SEND_TIMEOUT", 10*time.Second),
		SendRetries:   envIntOr("RELAY_SEND_RETRIES", 3),
		RetryDelay:    envDurationOr("RELAY_RETRY_DELAY", time.Second),
		StaleAfter:    envDurationOr("RELAY_STALE_AFTER", 5*time.Minute),
		SweepInterval: envDurationOr("RELAY_SWEEP_INTERVAL", time.Minute),
		WaitTimeout:   envDurationOr("RELAY_WAIT_TIMEOUT", 30*time.Second),
		WaitInterval:  envDurationOr("RELAY_WAIT_INTERVAL", time.Second),
		ResultTimeout: envDurationOr("RELAY_RESULT_TIMEOUT", 120*time.Second),
		SettleDelay:   envDurationOr("RELAY_SETTLE_DELAY", 3*time.Second),

		AssistantURL: envOr("RELAY_ASSISTANT_URL", defaultAssistantURL),
		PublisherURL: os.Getenv("RELAY_TRUYENCITY_URL"),
		ReaderAPI:    envOr("RELAY_READER_API", "http://localhost:3000"),
		ReaderPrefix: envOr("RELAY_READER_PREFIX", "http://localhost:3000/chapter/"),
		SitesFile:    os.Getenv("RELAY_SITES"),
		StorePath:    envOr("RELAY_STORE", filepath.Join(stateDir, "relay.db")),
		LogLevel:     envOr("RELAY_LOG_LEVEL", "info"),
	}

	configPath := envOr("RELAY_CONFIG", filepath.Join(homeDir(), ".novelrelay", "config.json"))

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg
	}

	if fc.Port != "" && os.Getenv("RELAY_PORT") == "" {
		cfg.Port = fc.Port
	}
	if fc.CdpURL != "" && os.Getenv("CDP_URL") == "" {
		cfg.CdpURL = fc.CdpURL
	}
	if fc.Token != "" && os.Getenv("RELAY_TOKEN") == "" {
		cfg.Token = fc.Token
	}
	if fc.StateDir != "" && os.Getenv("RELAY_STATE_DIR") == "" {
		cfg.StateDir = fc.StateDir
		if os.Getenv("RELAY_STORE") == "" {
			cfg.StorePath = filepath.Join(fc.StateDir, "relay.db")
		}
	}
	if fc.ProfileDir != "" && os.Getenv("RELAY_PROFILE") == "" {
		cfg.ProfileDir = fc.ProfileDir
	}
	if fc.Headless != nil && os.Getenv("RELAY_HEADLESS") == "" {
		cfg.Headless = *fc.Headless
	}
	if fc.TimeoutSec > 0 && os.Getenv("RELAY_TIMEOUT") == "" {
		cfg.ActionTimeout = time.Duration(fc.TimeoutSec) * time.Second
	}
	if fc.NavigateSec > 0 && os.Getenv("RELAY_NAV_TIMEOUT") == "" {
		cfg.NavigateTimeout = time.Duration(fc.NavigateSec) * time.Second
	}
	if fc.ChunkSize > 0 && os.Getenv("RELAY_CHUNK_SIZE") == "" {
		cfg.ChunkSize = fc.ChunkSize
	}
	if fc.ResultSec > 0 && os.Getenv("RELAY_RESULT_TIMEOUT") == "" {
		cfg.ResultTimeout = time.Duration(fc.ResultSec) * time.Second
	}
	if fc.AssistantURL != "" && os.Getenv("RELAY_ASSISTANT_URL") == "" {
		cfg.AssistantURL = fc.AssistantURL
	}
	if fc.TruyencityURL != "" && os.Getenv("RELAY_TRUYENCITY_URL") == "" {
		cfg.PublisherURL = fc.TruyencityURL
	}
	if fc.ReaderAPI != "" && os.Getenv("RELAY_READER_API") == "" {
		cfg.ReaderAPI = fc.ReaderAPI
	}
	if fc.SitesFile != "" && os.Getenv("RELAY_SITES") == "" {
		cfg.SitesFile = fc.SitesFile
	}

	return cfg
}

func DefaultFileConfig() FileConfig {
	h := false
	return FileConfig{
		Port:         "9870",
		StateDir:     filepath.Join(homeDir(), ".novelrelay"),
		ProfileDir:   filepath.Join(homeDir(), ".novelrelay", "chrome-profile"),
		Headless:     &h,
		TimeoutSec:   15,
		NavigateSec:  30,
		ChunkSize:    4000,
		ResultSec:    120,
		AssistantURL: defaultAssistantURL,
		ReaderAPI:    "http://localhost:3000",
	}
}

func HandleConfigCommand(cfg *RuntimeConfig) {
	if len(os.Args) < 3 {
		fmt.Println("Usage: novelrelay config <command>")
		fmt.Println("Commands:")
		fmt.Println("  init    - Create default config file")
		fmt.Println("  show    - Show current configuration")
		return
	}

	switch os.Args[2] {
	case "init":
		configPath := envOr("RELAY_CONFIG", filepath.Join(homeDir(), ".novelrelay", "config.json"))

		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config file already exists at %s\n", configPath)
			fmt.Print("Overwrite? (y/N): ")
			var response string
			_, _ = fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				return
			}
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			fmt.Printf("Error creating directory: %v\n", err)
			os.Exit(1)
		}

		fc := DefaultFileConfig()
		data, _ := json.MarshalIndent(fc, "", "  ")
		if err := os.WriteFile(configPath, data, 0644); err != nil {
			fmt.Printf("Error writing config: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Config file created at %s\n", configPath)
		fmt.Println("\nSet the publishing page before posting chapters:")
		fmt.Println(`{
  "truyencityUrl": "https://truyencity.example/admin/books/123",
  "token": "your-secret-token"
}`)

	case "show":
		fmt.Println("Current configuration:")
		fmt.Printf("  Port:        %s\n", cfg.Port)
		fmt.Printf("  CDP URL:     %s\n", cfg.CdpURL)
		fmt.Printf("  Token:       %s\n", MaskToken(cfg.Token))
		fmt.Printf("  State Dir:   %s\n", cfg.StateDir)
		fmt.Printf("  Store:       %s\n", cfg.StorePath)
		fmt.Printf("  Profile:     %s\n", cfg.ProfileDir)
		fmt.Printf("  Headless:    %v\n", cfg.Headless)
		fmt.Printf("  Assistant:   %s\n", cfg.AssistantURL)
		fmt.Printf("  Truyencity:  %s\n", orNone(cfg.PublisherURL))
		fmt.Printf("  Reader API:  %s\n", cfg.ReaderAPI)
		fmt.Printf("  Sites file:  %s\n", orNone(cfg.SitesFile))
		fmt.Printf("  Chunk size:  %d\n", cfg.ChunkSize)
		fmt.Printf("  Send:        timeout=%v retries=%d delay=%v\n", cfg.SendTimeout, cfg.SendRetries, cfg.RetryDelay)
		fmt.Printf("  Waits:       element=%v result=%v poll=%v\n", cfg.WaitTimeout, cfg.ResultTimeout, cfg.WaitInterval)
		fmt.Printf("  Sweep:       every %v, stale after %v\n", cfg.SweepInterval, cfg.StaleAfter)

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func MaskToken(t string) string {
	if t == "" {
		return "(none)"
	}
	if len(t) <= 8 {
		return "***"
	}
	return t[:4] + "..." + t[len(t)-4:]
}
