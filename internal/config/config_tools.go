package config

import (
	"fmt"
	"strings"
	"time"
)

// SheetsConfig configures the business-data tools.
type SheetsConfig struct {
	Enabled         bool                     `yaml:"enabled"`
	CredentialsFile string                   `yaml:"credentials_file"`
	CredentialsJSON string                   `yaml:"credentials_json"`
	Endpoint        string                   `yaml:"endpoint"`
	CacheTTL        time.Duration            `yaml:"cache_ttl"`
	Datasets        map[string]DatasetConfig `yaml:"datasets"`
}

// DatasetConfig points a sector at one tab of a spreadsheet.
type DatasetConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id"`
	Sheet         string `yaml:"sheet"`
}

type CalendarConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	CredentialsJSON string `yaml:"credentials_json"`
	CalendarID      string `yaml:"calendar_id"`
	Endpoint        string `yaml:"endpoint"`
	MaxResults      int    `yaml:"max_results"`
}

// DateTimeConfig fixes the zone and locale used for user-facing times.
type DateTimeConfig struct {
	TimeZone string `yaml:"time_zone"`
	Locale   string `yaml:"locale"`
}

type ExportConfig struct {
	MaxLinesPerPage int `yaml:"max_lines_per_page"`
	WrapWidth       int `yaml:"wrap_width"`
}

type SpeechConfig struct {
	Enabled            bool   `yaml:"enabled"`
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	TTSModel           string `yaml:"tts_model"`
	Voice              string `yaml:"voice"`
	TranscriptionModel string `yaml:"transcription_model"`
}

// MCPConfig lists the remote tool servers joined to every run.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

type MCPServerConfig struct {
	ID      string            `yaml:"id"`
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

func applyToolDefaults(cfg *Config) {
	if cfg.Sheets.CacheTTL == 0 {
		cfg.Sheets.CacheTTL = 60 * time.Second
	}
	if cfg.Calendar.CalendarID == "" {
		cfg.Calendar.CalendarID = "primary"
	}
	if cfg.Calendar.MaxResults == 0 {
		cfg.Calendar.MaxResults = 10
	}
	if cfg.DateTime.TimeZone == "" {
		cfg.DateTime.TimeZone = "UTC"
	}
	if cfg.DateTime.Locale == "" {
		cfg.DateTime.Locale = "en-US"
	}
	if cfg.Export.MaxLinesPerPage == 0 {
		cfg.Export.MaxLinesPerPage = 40
	}
	if cfg.Export.WrapWidth == 0 {
		cfg.Export.WrapWidth = 90
	}
	if cfg.Speech.TTSModel == "" {
		cfg.Speech.TTSModel = "tts-1"
	}
	if cfg.Speech.Voice == "" {
		cfg.Speech.Voice = "alloy"
	}
	if cfg.Speech.TranscriptionModel == "" {
		cfg.Speech.TranscriptionModel = "whisper-1"
	}
	for i := range cfg.MCP.Servers {
		if cfg.MCP.Servers[i].Timeout == 0 {
			cfg.MCP.Servers[i].Timeout = 30 * time.Second
		}
	}
}

func (c *Config) validateTools() []string {
	var issues []string
	if c.Sheets.Enabled {
		if c.Sheets.CredentialsFile == "" && c.Sheets.CredentialsJSON == "" {
			issues = append(issues, "sheets.credentials_file or sheets.credentials_json is required when sheets are enabled")
		}
		for sector, ds := range c.Sheets.Datasets {
			if strings.TrimSpace(ds.SpreadsheetID) == "" {
				issues = append(issues, fmt.Sprintf("sheets.datasets.%s.spreadsheet_id is required", sector))
			}
		}
	}
	if c.Sheets.CacheTTL < 0 {
		issues = append(issues, "sheets.cache_ttl must not be negative")
	}
	if c.Calendar.Enabled && c.Calendar.CredentialsFile == "" && c.Calendar.CredentialsJSON == "" {
		issues = append(issues, "calendar.credentials_file or calendar.credentials_json is required when calendar is enabled")
	}
	if _, err := time.LoadLocation(c.DateTime.TimeZone); err != nil {
		issues = append(issues, fmt.Sprintf("datetime.time_zone %q is not a known zone", c.DateTime.TimeZone))
	}
	if c.Export.MaxLinesPerPage < 1 {
		issues = append(issues, "export.max_lines_per_page must be at least 1")
	}
	if c.Speech.Enabled && strings.TrimSpace(c.Speech.APIKey) == "" {
		issues = append(issues, "speech.api_key is required when speech is enabled")
	}
	return issues
}

func (c MCPConfig) validate() []string {
	var issues []string
	seen := map[string]bool{}
	for i, server := range c.Servers {
		if strings.TrimSpace(server.ID) == "" {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d].id is required", i))
			continue
		}
		if seen[server.ID] {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d].id %q is duplicated", i, server.ID))
		}
		seen[server.ID] = true
		if !strings.HasPrefix(server.URL, "http://") && !strings.HasPrefix(server.URL, "https://") {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d].url must be an http(s) url", i))
		}
	}
	return issues
}
