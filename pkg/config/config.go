package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/tolitz22/library-management/pkg/sheets"
)

const (
	BackendSheets = "sheets"
	BackendMemory = "memory"

	DefaultFilename = "library.toml"
)

// Environment variables holding the spreadsheet credentials. They never go
// into the TOML file.
const (
	EnvSheetID             = "GOOGLE_SHEET_ID"
	EnvServiceAccountEmail = "GOOGLE_SERVICE_ACCOUNT_EMAIL"
	EnvPrivateKey          = "GOOGLE_SERVICE_ACCOUNT_PRIVATE_KEY"
)

// Duration is a time.Duration written as a string ("45s") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  Duration
	MaxJitter  Duration
}

type SheetsConfig struct {
	// Requests per minute allowed towards the Sheets API. Zero disables
	// client-side throttling.
	RequestsPerMinute int
	// Ranges per batch read, at most 120.
	ChunkSize int
	CacheTTL  Duration
	Retry     RetryConfig
}

type Settings struct {
	// Backend is "sheets" or "memory".
	Backend       string
	ListenAddress string
	Sheets        SheetsConfig
}

type Config struct {
	Filename string
	Settings Settings

	// Read from the environment by New.
	Credentials sheets.Credentials
}

// Defaults returns the settings written to a fresh config file.
func Defaults() Settings {
	return Settings{
		Backend:       BackendSheets,
		ListenAddress: ":8080",
		Sheets: SheetsConfig{
			RequestsPerMinute: 300,
			ChunkSize:         sheets.MaxBatchRanges,
			CacheTTL:          Duration{45 * time.Second},
			Retry: RetryConfig{
				MaxRetries: 3,
				BaseDelay:  Duration{250 * time.Millisecond},
				MaxJitter:  Duration{120 * time.Millisecond},
			},
		},
	}
}

// Save writes the current settings out to the toml file.
func (c *Config) Save() error {
	b, err := toml.Marshal(c.Settings)
	if err != nil {
		return err
	}
	return os.WriteFile(c.Filename, b, 0644)
}

// Load reads settings from the toml file over the current values.
func (c *Config) Load() error {
	b, err := os.ReadFile(c.Filename)
	if err != nil {
		return err
	}
	return toml.Unmarshal(b, &c.Settings)
}

// New loads filename, creating it with defaults if it does not exist, then
// reads credentials from the environment.
func New(filename string) (*Config, error) {
	c := &Config{
		Filename: filename,
		Settings: Defaults(),
	}
	if err := c.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", filename, err)
		}
		if err := c.Save(); err != nil {
			return nil, err
		}
	}
	c.Credentials = CredentialsFromEnv()
	return c, nil
}

// Validate checks the settings and, for the sheets backend, that every
// credential is present.
func (c *Config) Validate() error {
	switch c.Settings.Backend {
	case BackendMemory:
	case BackendSheets:
		if err := c.Credentials.Validate(); err != nil {
			return err
		}
	default:
		return sheets.Errorf(sheets.KindConfiguration, "config", "", "unknown backend %q", c.Settings.Backend)
	}
	if n := c.Settings.Sheets.ChunkSize; n < 0 || n > sheets.MaxBatchRanges {
		return sheets.Errorf(sheets.KindConfiguration, "config", "", "invalid chunk size %d (max %d)", n, sheets.MaxBatchRanges)
	}
	return nil
}

func CredentialsFromEnv() sheets.Credentials {
	return sheets.Credentials{
		SpreadsheetID:       strings.TrimSpace(os.Getenv(EnvSheetID)),
		ServiceAccountEmail: strings.TrimSpace(os.Getenv(EnvServiceAccountEmail)),
		PrivateKey:          NormalizePrivateKey(os.Getenv(EnvPrivateKey)),
	}
}

// NormalizePrivateKey strips the quoting and escaped newlines a PEM key picks
// up when pasted into an environment variable.
func NormalizePrivateKey(raw string) string {
	key := strings.TrimSpace(raw)
	if len(key) >= 2 {
		if (key[0] == '"' && key[len(key)-1] == '"') || (key[0] == '\'' && key[len(key)-1] == '\'') {
			key = key[1 : len(key)-1]
		}
	}
	key = strings.ReplaceAll(key, `\n`, "\n")
	return strings.ReplaceAll(key, "\r", "")
}
