package config

type Config struct {
	Telegram Telegram `json:"telegram"`
	Server   Server   `json:"server"`
	Delivery Delivery `json:"delivery"`
	Dispatch Dispatch `json:"dispatch,omitempty"`
	Assets   Assets   `json:"assets"`
	Storage  Storage  `json:"storage,omitempty"`
	Logging  Logging  `json:"logging,omitempty"`
}

type Telegram struct {
	Token string `json:"token"`
	// SecretToken must match the X-Telegram-Bot-Api-Secret-Token header on
	// webhook requests; mismatches are rejected before the core runs.
	SecretToken string `json:"secret_token"`
}

type Server struct {
	Addr string `json:"addr"`
	// Timeouts are Go duration strings (e.g. "10s", "1m").
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Delivery controls where and how batches are pushed.
type Delivery struct {
	ChatIDs []int64 `json:"chat_ids"`
	// Timezone is the IANA zone commands and due checks operate in,
	// e.g. "Asia/Taipei". Empty means the process-local zone.
	Timezone   string `json:"timezone,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// Dispatch controls the trigger. The poll endpoint always works; Internal
// additionally runs a once-a-minute in-process due check for deployments
// without an external scheduler.
type Dispatch struct {
	Internal bool `json:"internal,omitempty"`
}

type Assets struct {
	UploadURL string `json:"upload_url"`
	AuthToken string `json:"auth_token,omitempty"`
	// Timeout is a Go duration string.
	Timeout string `json:"timeout,omitempty"`
}

// Storage selects the schedule store backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./relaybot_schedule.json" }
type Storage struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type Logging struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}
