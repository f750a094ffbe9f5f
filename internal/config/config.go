package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Values come from defaults,
// overlaid by the YAML file, overlaid by environment variables. Secrets
// (tokens, DSN, SMTP credentials) are environment-only and never belong in
// the YAML file.
type Config struct {
	DatabaseDSN string `yaml:"database_dsn"`

	Watchlist []string `yaml:"watchlist"`
	Blacklist []string `yaml:"blacklist"`

	// Market window, local to Timezone, Monday-Friday.
	Market struct {
		Timezone  string `yaml:"timezone"`
		OpenHour  int    `yaml:"open_hour"`
		OpenMin   int    `yaml:"open_min"`
		CloseHour int    `yaml:"close_hour"`
		CloseMin  int    `yaml:"close_min"`
	} `yaml:"market"`

	// Polling cadence in minutes for market vs off hours.
	PollMarketMin int `yaml:"poll_market_min"`
	PollOffMin    int `yaml:"poll_off_min"`

	// Alert gates.
	FrictionAlertThreshold   float64 `yaml:"friction_alert_threshold"`
	ConfidenceAlertThreshold float64 `yaml:"confidence_alert_threshold"`
	AlertCooldownMinutes     int     `yaml:"alert_cooldown_minutes"`
	MaxAlertsPerSymbolHour   int     `yaml:"max_alerts_per_symbol_hour"`
	TelegramMinIntervalSec   int     `yaml:"telegram_min_interval_sec"`
	EmailMinIntervalSec      int     `yaml:"email_min_interval_sec"`

	// Risk filter.
	MaxVolatilityPct float64 `yaml:"max_volatility_pct"`

	// Confidence composer.
	WinRateMinSamples int `yaml:"win_rate_min_samples"`

	// Watchdog / supervisor. MaxRestartsTotal is a lifetime cap on
	// supervisor restarts; zero (the default) means unlimited, leaving
	// the hourly rate limit as the only restart gate.
	MaxMemoryMB        float64 `yaml:"max_memory_mb"`
	MaxRestartsPerHour int     `yaml:"max_restarts_per_hour"`
	MaxRestartsTotal   int     `yaml:"max_restarts_total"`
	RestartDelaySec    int     `yaml:"restart_delay_sec"`

	// Daily heartbeat hour (UTC).
	DailyHeartbeatHourUTC int `yaml:"daily_heartbeat_hour_utc"`

	Telegram struct {
		Token  string `yaml:"-"`
		ChatID int64  `yaml:"-"`
	} `yaml:"-"`

	SMTP struct {
		Host     string `yaml:"smtp_host"`
		Port     int    `yaml:"smtp_port"`
		User     string `yaml:"-"`
		Password string `yaml:"-"`
		To       string `yaml:"-"`
	} `yaml:"smtp"`

	LLM struct {
		BaseURL       string `yaml:"base_url"`
		Model         string `yaml:"model"`
		APIKey        string `yaml:"-"`
		MaxDailyCalls int    `yaml:"max_daily_calls"`
	} `yaml:"llm"`

	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`
}

// defaultWatchlist mirrors the default NSE large-cap universe plus the
// indices and commodity ETFs tracked alongside it.
var defaultWatchlist = []string{
	"RELIANCE.NS", "TCS.NS", "HDFCBANK.NS", "INFY.NS", "ICICIBANK.NS",
	"HINDUNILVR.NS", "SBIN.NS", "BHARTIARTL.NS", "ITC.NS", "KOTAKBANK.NS",
	"LT.NS", "AXISBANK.NS", "ASIANPAINT.NS", "MARUTI.NS", "HCLTECH.NS",
	"WIPRO.NS", "TITAN.NS", "SUNPHARMA.NS", "BAJFINANCE.NS", "ULTRACEMCO.NS",
	"NESTLEIND.NS", "TATAMOTORS.NS", "TATASTEEL.NS", "POWERGRID.NS", "NTPC.NS",
	"ONGC.NS", "INDUSINDBK.NS", "TECHM.NS", "ADANIPORTS.NS", "CIPLA.NS",
	"DRREDDY.NS", "BRITANNIA.NS", "DIVISLAB.NS", "GRASIM.NS", "HINDALCO.NS",
	"JSWSTEEL.NS", "EICHERMOT.NS", "HEROMOTOCO.NS", "APOLLOHOSP.NS", "BAJAJ-AUTO.NS",
	"COALINDIA.NS", "M&M.NS", "SHRIRAMFIN.NS", "TATACONSUM.NS", "HDFCLIFE.NS",
	"SBILIFE.NS", "PIDILITIND.NS", "ADANIENT.NS", "LTIM.NS", "BEL.NS",
	"^NSEI", "^BSESN", "^NSEBANK", "^CNXIT",
	"GOLDBEES.NS", "SILVERETFS.NS",
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides. A missing file is not an error; a malformed file
// is.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	clamp(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{
		Watchlist:                append([]string(nil), defaultWatchlist...),
		PollMarketMin:            3,
		PollOffMin:               30,
		FrictionAlertThreshold:   0.65,
		ConfidenceAlertThreshold: 0.60,
		AlertCooldownMinutes:     120,
		MaxAlertsPerSymbolHour:   3,
		TelegramMinIntervalSec:   60,
		EmailMinIntervalSec:      300,
		MaxVolatilityPct:         15.0,
		WinRateMinSamples:        20,
		MaxMemoryMB:              2048,
		MaxRestartsPerHour:       5,
		RestartDelaySec:          30,
		DailyHeartbeatHourUTC:    4,
		HTTPAddr:                 ":8090",
		LogLevel:                 "info",
	}
	cfg.Market.Timezone = "Asia/Kolkata"
	cfg.Market.OpenHour = 9
	cfg.Market.OpenMin = 15
	cfg.Market.CloseHour = 15
	cfg.Market.CloseMin = 30
	cfg.SMTP.Host = "smtp.gmail.com"
	cfg.SMTP.Port = 465
	cfg.LLM.BaseURL = "https://api.groq.com/openai/v1"
	cfg.LLM.Model = "llama-3.1-8b-instant"
	cfg.LLM.MaxDailyCalls = 100
	return cfg
}

func applyEnv(cfg *Config) {
	setString(&cfg.DatabaseDSN, "DATABASE_DSN")
	setString(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setInt64(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.SMTP.User, "SMTP_USER")
	setString(&cfg.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.SMTP.To, "ALERT_EMAIL_TO")
	setString(&cfg.LLM.APIKey, "GROQ_API_KEY")
	setString(&cfg.LLM.Model, "GROQ_MODEL")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	if raw := os.Getenv("WATCHLIST"); strings.TrimSpace(raw) != "" {
		cfg.Watchlist = splitSymbols(raw)
	}
	if raw := os.Getenv("BLACKLIST"); strings.TrimSpace(raw) != "" {
		cfg.Blacklist = splitSymbols(raw)
	}
	if cfg.SMTP.To == "" {
		cfg.SMTP.To = cfg.SMTP.User
	}
}

func clamp(cfg *Config) {
	if cfg.PollMarketMin < 1 {
		cfg.PollMarketMin = 1
	}
	if cfg.PollOffMin < 5 {
		cfg.PollOffMin = 5
	}
	if cfg.AlertCooldownMinutes < 0 {
		cfg.AlertCooldownMinutes = 0
	}
	if cfg.MaxAlertsPerSymbolHour < 1 {
		cfg.MaxAlertsPerSymbolHour = 1
	}
	if cfg.TelegramMinIntervalSec < 1 {
		cfg.TelegramMinIntervalSec = 1
	}
	if cfg.EmailMinIntervalSec < 60 {
		cfg.EmailMinIntervalSec = 60
	}
	if cfg.WinRateMinSamples < 5 {
		cfg.WinRateMinSamples = 5
	}
	if cfg.MaxRestartsPerHour < 1 {
		cfg.MaxRestartsPerHour = 1
	}
	if cfg.MaxRestartsTotal < 0 {
		cfg.MaxRestartsTotal = 0
	}
	if cfg.RestartDelaySec < 5 {
		cfg.RestartDelaySec = 5
	}
	if cfg.LLM.MaxDailyCalls < 1 {
		cfg.LLM.MaxDailyCalls = 1
	}
}

// NormalizeSymbol keeps indices (^...) and already-qualified tickers as-is
// and qualifies everything else with the NSE suffix.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	if strings.HasPrefix(s, "^") || strings.HasSuffix(s, ".NS") || strings.HasSuffix(s, ".BO") {
		return s
	}
	return s + ".NS"
}

func splitSymbols(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := NormalizeSymbol(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizedWatchlist returns the watchlist with symbols qualified and
// duplicates removed, preserving order.
func (c *Config) NormalizedWatchlist() []string {
	return dedupe(c.Watchlist)
}

// NormalizedBlacklist returns the denylist with symbols qualified.
func (c *Config) NormalizedBlacklist() []string {
	return dedupe(c.Blacklist)
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n := NormalizeSymbol(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
