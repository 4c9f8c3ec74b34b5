package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys. Each is read from the environment variable of the
// same name in upper case (MUD_HOST, ...) or from a .env file.
const (
	keyHost              = "mud_host"
	keyPort              = "mud_port"
	keyUsername          = "mud_username"
	keyPassword          = "mud_password"
	keyEncoding          = "mud_encoding"
	keyDir               = "mud_dir"
	keyReconnectAttempts = "mud_reconnect_attempts"
	keyStepDelay         = "mud_step_delay"
	keyDebug             = "mud_debug"
	keyWebAddr           = "mud_web_addr"
	keyWebPasswordHash   = "mud_webui_password_hash"
	keyTelegramToken     = "mud_telegram_token"
	keyTelegramUsers     = "mud_telegram_allowed_users"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Encoding Encoding

	// Dir holds the transcript, command pipe, PID file and operational log.
	Dir string

	ReconnectAttempts int
	StepDelay         time.Duration
	Debug             bool

	WebAddr           string
	WebUIPasswordHash string

	TelegramToken        string
	TelegramAllowedUsers []int64
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// newViper returns a viper instance reading the environment and, when it
// exists, the dotenv file at envFile. Real environment variables win over
// the file.
func newViper(envFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(keyHost, "mud.pkuxkx.net")
	v.SetDefault(keyPort, 8081)
	v.SetDefault(keyEncoding, string(EncodingUTF8))
	v.SetDefault(keyDir, ".")
	v.SetDefault(keyReconnectAttempts, 1)
	v.SetDefault(keyStepDelay, 2*time.Second)
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigError{Err: fmt.Errorf("reading %s: %w", envFile, err)}
		}
	}
	return v, nil
}

// LoadConfig validates the settings in v. Missing credentials produce a
// *ConfigError naming every absent key.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Host:              strings.TrimSpace(v.GetString(keyHost)),
		Username:          v.GetString(keyUsername),
		Password:          v.GetString(keyPassword),
		Dir:               v.GetString(keyDir),
		ReconnectAttempts: v.GetInt(keyReconnectAttempts),
		StepDelay:         v.GetDuration(keyStepDelay),
		Debug:             v.GetBool(keyDebug),
		WebAddr:           v.GetString(keyWebAddr),
		WebUIPasswordHash: v.GetString(keyWebPasswordHash),
		TelegramToken:     v.GetString(keyTelegramToken),
	}

	var missing []string
	if cfg.Host == "" {
		missing = append(missing, strings.ToUpper(keyHost))
	}
	if v.GetString(keyPort) == "" {
		missing = append(missing, strings.ToUpper(keyPort))
	}
	if cfg.Username == "" {
		missing = append(missing, strings.ToUpper(keyUsername))
	}
	if cfg.Password == "" {
		missing = append(missing, strings.ToUpper(keyPassword))
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}

	port, err := strconv.Atoi(strings.TrimSpace(v.GetString(keyPort)))
	if err != nil || port <= 0 || port > 65535 {
		return nil, &ConfigError{Err: fmt.Errorf("%s: invalid port %q", strings.ToUpper(keyPort), v.GetString(keyPort))}
	}
	cfg.Port = port

	if cfg.Encoding, err = ParseEncoding(v.GetString(keyEncoding)); err != nil {
		return nil, &ConfigError{Err: err}
	}

	if cfg.ReconnectAttempts < 1 {
		cfg.ReconnectAttempts = 1
	}

	if cfg.TelegramAllowedUsers, err = parseUserIDs(v.GetString(keyTelegramUsers)); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("%s: %w", strings.ToUpper(keyTelegramUsers), err)}
	}
	if cfg.TelegramToken != "" && len(cfg.TelegramAllowedUsers) == 0 {
		return nil, &ConfigError{Err: fmt.Errorf("%s is set but %s is empty", strings.ToUpper(keyTelegramToken), strings.ToUpper(keyTelegramUsers))}
	}

	if cfg.Dir, err = filepath.Abs(cfg.Dir); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

// parseUserIDs parses a comma or space separated list of Telegram user IDs.
func parseUserIDs(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// resolveDir returns the runtime directory without requiring credentials,
// for commands like stop and status.
func resolveDir(v *viper.Viper) string {
	dir, err := filepath.Abs(v.GetString(keyDir))
	if err != nil {
		return v.GetString(keyDir)
	}
	return dir
}

// ---------------------------------------------------------------------------
// Runtime file locations
// ---------------------------------------------------------------------------

// runtimeDir is where the agent keeps its files. Set once at startup; tests
// point it at a temp directory.
var runtimeDir = "."

func setRuntimeDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	runtimeDir = dir
	return nil
}

// transcriptPath returns the durable session transcript.
func transcriptPath() string {
	return filepath.Join(runtimeDir, "mud_output.log")
}

// fifoPath returns the named pipe operators write commands to.
func fifoPath() string {
	return filepath.Join(runtimeDir, "mud_input_pipe")
}

// pidFilePath returns the file holding the running agent's PID.
func pidFilePath() string {
	return filepath.Join(runtimeDir, "mud.pid")
}

// logFilePath returns the operational log.
func logFilePath() string {
	return filepath.Join(runtimeDir, "mud_agent.log")
}
