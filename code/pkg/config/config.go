package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Defaults for values that are not in the config file.
const (
	DefaultLogDir          = "."
	DefaultLogLeader       = "kas"
	DefaultStoreType       = "xlsx"
	DefaultMemberTable     = "data.xlsx"
	DefaultNewsTable       = "berita.xlsx"
	DefaultDraftTable      = "saved.xlsx"
	DefaultAuthTable       = "auth.xlsx"
	DefaultPort            = "5000"
	DefaultTimeoutSeconds  = 5
	DefaultTokenHours      = 24
	DefaultLockoutFailures = 5
	DefaultLockoutMinutes  = 15
)

// Config holds the configuration.
type Config struct {
	// These config values are taken from the given config file.
	OrganisationName      string `json:"organisation_name"`        // The name of the organisation for display
	HTTP                  bool   `json:"http"`                     // true if the server should run as HTTP not HTTPS (usually for testing).
	TLSCertificateFile    string `json:"tls_certificate_file"`     // The TLS certificate file.
	TLSCertificateKeyFile string `json:"tls_certificate_key_file"` // the secret TLS key file.
	LogDir                string `json:"log_dir"`                  // The directory in which the daily log is created.
	LogLeader             string `json:"log_leader"`               // The first part of the log file name.
	RunUser               string `json:"run_user"`                 // In HTTPS mode, the user to run as once the TLS files are read.

	// Where the tables are kept.  For the xlsx store the table names are
	// file paths.
	StoreType   string `json:"store_type"` // "xlsx", "sqlite" or "postgres".
	MemberTable string `json:"member_table"`
	NewsTable   string `json:"news_table"`
	DraftTable  string `json:"draft_table"`
	AuthTable   string `json:"auth_table"`
	Backup      bool   `json:"backup"` // Keep a copy of each workbook before it's overwritten.

	// Forwarding of payments to other systems.
	CollaboratorCashURL        string `json:"collaborator_cash_url"`
	CollaboratorDraftURL       string `json:"collaborator_draft_url"`
	CollaboratorTimeoutSeconds int    `json:"collaborator_timeout_seconds"`
	DiscordWebhookID           string `json:"discord_webhook_id"`

	// Passwords and logins.
	PBKDF2Iterations     int    `json:"pbkdf2_iterations"`
	PBKDF2KeyLength      int    `json:"pbkdf2_key_length"`
	SaltLength           int    `json:"salt_length"`
	LockoutMaxFailures   int    `json:"lockout_max_failures"`
	LockoutWindowMinutes int    `json:"lockout_window_minutes"`
	OpenRegistration     bool   `json:"open_registration"` // Anybody can register, not just admins.
	RequireTokens        bool   `json:"require_tokens"`    // Payment requests need a bearer token.
	TokenLifetimeHours   int    `json:"token_lifetime_hours"`
	AllowedOrigin        string `json:"allowed_origin"` // For CORS.  Empty means "*".

	// Secrets are taken from the environment.
	TokenSecret         string
	DiscordWebhookToken string
	Hostname            string
	Port                string
	DBType              string
	DBHostname          string
	DBPort              string
	DBDatabase          string
	DBUser              string
	DBPassword          string
	Address             string
}

// GetConfig gets the config from the given file.
func GetConfig(configFile string) (*Config, error) {
	file, err := os.Open(configFile)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer file.Close()

	config, errParse := getConfigFromReader(file)

	if errParse != nil {
		return nil, errParse
	}

	return config, nil
}

// getConfigFromReader gets the config from the given reader.
func getConfigFromReader(configReader io.Reader) (*Config, error) {

	data, errRead := io.ReadAll(configReader)
	if errRead != nil {
		return nil, fmt.Errorf("error reading config file: %w", errRead)
	}

	config, parseError := parseConfigFromBytes(data)
	if parseError != nil {
		return nil, fmt.Errorf("not a valid config file: %w", parseError)
	}

	return config, nil
}

func parseConfigFromBytes(data []byte) (*Config, error) {
	var config Config
	err := json.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	// Get the secrets from the environment.

	// The key used to sign bearer tokens.
	config.TokenSecret = os.Getenv("TokenSecret")
	// The token part of the Discord webhook URL.
	config.DiscordWebhookToken = os.Getenv("DiscordWebhookToken")
	// The hostname that this web server accepts requests for.
	config.Hostname = os.Getenv("hostname")
	// The port that this web server will run on.
	config.Port = os.Getenv("port")
	// The database type - "postgres" or "sqlite".  Overrides store_type.
	config.DBType = os.Getenv("DBType")
	// The hostname that the database server is running on.
	config.DBHostname = os.Getenv("DBHost")
	// The database port.
	config.DBPort = os.Getenv("DBPort")
	// The database (schema), or the file name for sqlite.
	config.DBDatabase = os.Getenv("DBDatabase")
	// The database user.
	config.DBUser = os.Getenv("DBUser")
	// The database password.
	config.DBPassword = os.Getenv("DBPassword")

	config.applyDefaults()

	// The address of this web server is "hostname:port".
	config.Address = config.Hostname + ":" + config.Port // Accept requests to this name.

	return &config, nil
}

// applyDefaults fills in the values that were not given.
func (c *Config) applyDefaults() {
	if len(c.LogDir) == 0 {
		c.LogDir = DefaultLogDir
	}
	if len(c.LogLeader) == 0 {
		c.LogLeader = DefaultLogLeader
	}
	if len(c.DBType) > 0 {
		c.StoreType = c.DBType
	}
	if len(c.StoreType) == 0 {
		c.StoreType = DefaultStoreType
	}
	if len(c.MemberTable) == 0 {
		c.MemberTable = DefaultMemberTable
	}
	if len(c.NewsTable) == 0 {
		c.NewsTable = DefaultNewsTable
	}
	if len(c.DraftTable) == 0 {
		c.DraftTable = DefaultDraftTable
	}
	if len(c.AuthTable) == 0 {
		c.AuthTable = DefaultAuthTable
	}
	if len(c.Port) == 0 {
		c.Port = DefaultPort
	}
	if c.CollaboratorTimeoutSeconds <= 0 {
		c.CollaboratorTimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.TokenLifetimeHours <= 0 {
		c.TokenLifetimeHours = DefaultTokenHours
	}
	if c.LockoutMaxFailures <= 0 {
		c.LockoutMaxFailures = DefaultLockoutFailures
	}
	if c.LockoutWindowMinutes <= 0 {
		c.LockoutWindowMinutes = DefaultLockoutMinutes
	}
	if len(c.AllowedOrigin) == 0 {
		c.AllowedOrigin = "*"
	}
}

// CollaboratorTimeout gives the timeout for outbound calls.
func (c *Config) CollaboratorTimeout() time.Duration {
	return time.Duration(c.CollaboratorTimeoutSeconds) * time.Second
}

// LockoutWindow gives the period over which failed logins are counted.
func (c *Config) LockoutWindow() time.Duration {
	return time.Duration(c.LockoutWindowMinutes) * time.Minute
}

// TokenLifetime gives how long a bearer token lasts.
func (c *Config) TokenLifetime() time.Duration {
	return time.Duration(c.TokenLifetimeHours) * time.Hour
}
