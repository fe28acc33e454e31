// Package config loads service settings from .env, the environment and an
// optional YAML overlay.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/review"
	"github.com/dvloznov/sheet-ledger/internal/schema"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CredentialsJSON string `yaml:"-"`
	CredentialsFile string `yaml:"credentials_file"`

	GeminiAPIKey string   `yaml:"-"`
	GeminiModels []string `yaml:"gemini_models"`

	Port        string   `yaml:"port"`
	APIToken    string   `yaml:"-"`
	CORSOrigins []string `yaml:"cors_origins"`
	GCSBucket   string   `yaml:"gcs_bucket"`

	BQProject string `yaml:"bq_project"`
	BQDataset string `yaml:"bq_dataset"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Tabs               schema.Tabs       `yaml:"tabs"`
	ReviewThreshold    float64           `yaml:"review_threshold"`
	DefaultCurrency    string            `yaml:"default_currency"`
	InvestmentAccounts map[string]string `yaml:"investment_accounts"`
	FallbackUSDToIDR   decimal.Decimal   `yaml:"-"`
	StoreTimeout       time.Duration     `yaml:"store_timeout"`
}

// secretVars are masked when logged.
var secretVars = map[string]bool{
	"GOOGLE_CREDENTIALS_JSON": true,
	"GEMINI_API_KEY":          true,
	"API_TOKEN":               true,
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:             "8080",
		BQDataset:        "finance",
		LogLevel:         "info",
		Tabs:             schema.DefaultTabs(),
		ReviewThreshold:  review.DefaultThreshold,
		DefaultCurrency:  "IDR",
		FallbackUSDToIDR: decimal.NewFromInt(16000),
		StoreTimeout:     15 * time.Second,
	}
}

// Load reads .env (when present), the environment and then the YAML file
// named by LEDGER_CONFIG. YAML values override the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		if err := cfg.Overlay(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// FromEnv builds a Config from getenv on top of Default.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()

	str := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str(&cfg.SpreadsheetID, "SPREADSHEET_ID")
	str(&cfg.CredentialsJSON, "GOOGLE_CREDENTIALS_JSON")
	str(&cfg.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	str(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	str(&cfg.Port, "PORT")
	str(&cfg.APIToken, "API_TOKEN")
	str(&cfg.GCSBucket, "GCS_BUCKET")
	str(&cfg.BQProject, "BQ_PROJECT")
	str(&cfg.BQDataset, "BQ_DATASET")
	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.LogFormat, "LOG_FORMAT")
	str(&cfg.DefaultCurrency, "DEFAULT_CURRENCY")

	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := getenv("GEMINI_MODELS"); v != "" {
		cfg.GeminiModels = splitList(v)
	}
	if v := getenv("REVIEW_THRESHOLD"); v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil || th <= 0 || th > 1 {
			return nil, fmt.Errorf("config: REVIEW_THRESHOLD %q must be a number in (0,1]", v)
		}
		cfg.ReviewThreshold = th
	}
	if v := getenv("FALLBACK_USD_IDR"); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("config: FALLBACK_USD_IDR %q must be a positive number", v)
		}
		cfg.FallbackUSDToIDR = rate
	}
	if v := getenv("STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("config: STORE_TIMEOUT %q is not a positive duration", v)
		}
		cfg.StoreTimeout = d
	}
	if v := getenv("INVESTMENT_ACCOUNTS"); v != "" {
		accounts, err := parseAccountMap(v)
		if err != nil {
			return nil, err
		}
		cfg.InvestmentAccounts = accounts
	}
	return cfg, nil
}

// Overlay merges the YAML file at path into cfg. Only keys present in the
// file change; empty tab names keep their current value.
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	tabs := c.Tabs
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	c.Tabs = mergeTabs(tabs, c.Tabs)
	if c.ReviewThreshold <= 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("config: review_threshold %v must be in (0,1]", c.ReviewThreshold)
	}
	return nil
}

func mergeTabs(base, over schema.Tabs) schema.Tabs {
	pick := func(b, o string) string {
		if o != "" {
			return o
		}
		return b
	}
	return schema.Tabs{
		Transactions: pick(base.Transactions, over.Transactions),
		Investments:  pick(base.Investments, over.Investments),
		Categories:   pick(base.Categories, over.Categories),
		Accounts:     pick(base.Accounts, over.Accounts),
		Budgets:      pick(base.Budgets, over.Budgets),
	}
}

// Validate reports settings required to reach the spreadsheet.
func (c *Config) Validate() error {
	var missing []string
	if c.SpreadsheetID == "" {
		missing = append(missing, "SPREADSHEET_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAccountMap reads "USD=Gotrade,IDR=Stockbit".
func parseAccountMap(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range splitList(s) {
		cur, acct, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(cur) == "" || strings.TrimSpace(acct) == "" {
			return nil, fmt.Errorf("config: INVESTMENT_ACCOUNTS entry %q must look like CUR=Account", p)
		}
		out[strings.ToUpper(strings.TrimSpace(cur))] = strings.TrimSpace(acct)
	}
	return out, nil
}

// Mask hides all but the last four characters of a secret.
func Mask(val string) string {
	if len(val) > 4 {
		return "***" + val[len(val)-4:]
	}
	return "***"
}

// LogSummary writes the effective settings with secrets masked.
func (c *Config) LogSummary(log zerolog.Logger) {
	fields := map[string]string{
		"SPREADSHEET_ID":   c.SpreadsheetID,
		"GCS_BUCKET":       c.GCSBucket,
		"BQ_PROJECT":       c.BQProject,
		"GEMINI_MODELS":    strings.Join(c.GeminiModels, ","),
		"PORT":             c.Port,
		"GEMINI_API_KEY":   c.GeminiAPIKey,
		"API_TOKEN":        c.APIToken,
		"CREDENTIALS":      c.CredentialsFile,
		"DEFAULT_CURRENCY": c.DefaultCurrency,
	}
	if c.CredentialsJSON != "" {
		fields["GOOGLE_CREDENTIALS_JSON"] = c.CredentialsJSON
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ev := log.Info()
	for _, k := range keys {
		v := fields[k]
		if secretVars[k] && v != "" {
			v = Mask(v)
		}
		ev = ev.Str(k, v)
	}
	ev.Float64("REVIEW_THRESHOLD", c.ReviewThreshold).Msg("Configuration loaded")
}
