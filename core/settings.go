package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

// SettingsPlugin is the plugin name under which chat settings are stored.
const SettingsPlugin = "local_chatsync"

// Settings sources accepted by Config.SettingsSource.
const (
	SettingsSourceDB   = "db"
	SettingsSourceFile = "file"
	SettingsSourceEnv  = "env"
)

// Setting keys consumed from the settings provider.
const (
	SettingHost       = "host"
	SettingPort       = "port"
	SettingProtocol   = "protocol"
	SettingUseToken   = "usetoken"
	SettingUsername   = "username"
	SettingPassword   = "password"
	SettingGroupRegex = "groupregex"
)

// SettingsProvider is a key-value lookup for plugin settings.
// A missing key yields an empty string, not an error.
type SettingsProvider interface {
	Get(ctx context.Context, key string) (string, error)
}

// ChatSettings is the explicit configuration handed to NewChatClient.
type ChatSettings struct {
	Host       string
	Port       string
	PlainHTTP  bool // "protocol" setting: true selects http, false https
	UseToken   bool // static token mode: Username is the user id, Password the auth token
	Username   string
	Password   string
	GroupRegex string // newline-separated patterns
}

// BaseURL returns http(s)://host:port for the chat server.
func (s ChatSettings) BaseURL() string {
	scheme := "https"
	if s.PlainHTTP {
		scheme = "http"
	}
	if s.Port == "" {
		return scheme + "://" + s.Host
	}
	return scheme + "://" + s.Host + ":" + s.Port
}

// LoadChatSettings reads every chat key from provider. Provider failures are
// wrapped with ErrDataAccess.
func LoadChatSettings(ctx context.Context, provider SettingsProvider) (ChatSettings, error) {
	values := make(map[string]string, 7)
	for _, key := range []string{SettingHost, SettingPort, SettingProtocol, SettingUseToken, SettingUsername, SettingPassword, SettingGroupRegex} {
		v, err := provider.Get(ctx, key)
		if err != nil {
			return ChatSettings{}, fmt.Errorf("%w: read setting %s: %v", ErrDataAccess, key, err)
		}
		values[key] = v
	}

	plain, err := parseSettingBool(values[SettingProtocol])
	if err != nil {
		return ChatSettings{}, fmt.Errorf("setting %s: %w", SettingProtocol, err)
	}
	useToken, err := parseSettingBool(values[SettingUseToken])
	if err != nil {
		return ChatSettings{}, fmt.Errorf("setting %s: %w", SettingUseToken, err)
	}

	return ChatSettings{
		Host:       strings.TrimSpace(values[SettingHost]),
		Port:       strings.TrimSpace(values[SettingPort]),
		PlainHTTP:  plain,
		UseToken:   useToken,
		Username:   values[SettingUsername],
		Password:   values[SettingPassword],
		GroupRegex: values[SettingGroupRegex],
	}, nil
}

// parseSettingBool accepts the checkbox encodings used by LMS settings pages.
func parseSettingBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false, nil
	case "1", "true", "yes", "on":
		return true, nil
	default:
		return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidSetting, v)
	}
}

// PgSettingsRepository reads plugin settings from the plugin_settings table.
type PgSettingsRepository struct {
	db     *pgxpool.Pool
	plugin string
}

func NewPgSettingsRepository(db *pgxpool.Pool) *PgSettingsRepository {
	return &PgSettingsRepository{db: db, plugin: SettingsPlugin}
}

func (r *PgSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM plugin_settings WHERE plugin=$1 AND name=$2`
	var v string
	if err := r.db.QueryRow(ctx, q, r.plugin, key).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

// Set upserts a plugin setting. Used by the CLI to seed settings.
func (r *PgSettingsRepository) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO plugin_settings (plugin, name, value) VALUES ($1,$2,$3)
ON CONFLICT (plugin, name) DO UPDATE SET value=EXCLUDED.value`
	_, err := r.db.Exec(ctx, q, r.plugin, key, value)
	return err
}

// MapSettings is an in-memory SettingsProvider.
type MapSettings map[string]string

func (m MapSettings) Get(_ context.Context, key string) (string, error) {
	return m[key], nil
}

// Keys returns the configured keys in sorted order.
func (m MapSettings) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// settingsFile is the YAML layout of a settings file:
//
//	local_chatsync:
//	  host: chat.example.org
//	  port: 443
//	  usetoken: true
//	  groupregex:
//	    - ^Team
//	    - /^lab/i
type settingsFile map[string]map[string]yaml.Node

// LoadSettingsFile reads plugin settings from a YAML file. groupregex may be a
// block string or a list; lists are joined with newlines.
func LoadSettingsFile(path string) (MapSettings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read settings file %s: %v", ErrDataAccess, path, err)
	}
	return parseSettingsYAML(b)
}

func parseSettingsYAML(b []byte) (MapSettings, error) {
	var doc settingsFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: settings file is not valid YAML: %v", ErrInvalidSetting, err)
	}
	section, ok := doc[SettingsPlugin]
	if !ok {
		return nil, fmt.Errorf("%w: settings file has no %s section", ErrInvalidSetting, SettingsPlugin)
	}
	out := MapSettings{}
	for key, node := range section {
		switch node.Kind {
		case yaml.ScalarNode:
			out[key] = node.Value
		case yaml.SequenceNode:
			var items []string
			if err := node.Decode(&items); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSetting, key, err)
			}
			out[key] = strings.Join(items, "\n")
		default:
			return nil, fmt.Errorf("%w: %s must be a scalar or a list", ErrInvalidSetting, key)
		}
	}
	return out, nil
}

// SettingsFromEnv builds settings from CHAT_* environment variables.
func SettingsFromEnv() MapSettings {
	return MapSettings{
		SettingHost:       os.Getenv("CHAT_HOST"),
		SettingPort:       os.Getenv("CHAT_PORT"),
		SettingProtocol:   strconv.FormatBool(boolFromEnv("CHAT_PLAIN_HTTP", false)),
		SettingUseToken:   strconv.FormatBool(boolFromEnv("CHAT_USE_TOKEN", false)),
		SettingUsername:   os.Getenv("CHAT_USERNAME"),
		SettingPassword:   os.Getenv("CHAT_PASSWORD"),
		SettingGroupRegex: strings.ReplaceAll(os.Getenv("CHAT_GROUP_REGEX"), `\n`, "\n"),
	}
}

// OpenSettingsProvider selects the provider named by cfg.SettingsSource.
// db may be nil unless the source is "db".
func OpenSettingsProvider(cfg Config, db *pgxpool.Pool) (SettingsProvider, error) {
	switch cfg.SettingsSource {
	case SettingsSourceDB:
		if db == nil {
			return nil, errors.New("settings source db requires a database connection")
		}
		return NewPgSettingsRepository(db), nil
	case SettingsSourceFile:
		return LoadSettingsFile(cfg.SettingsFile)
	case SettingsSourceEnv:
		return SettingsFromEnv(), nil
	default:
		return nil, fmt.Errorf("unknown settings source %q", cfg.SettingsSource)
	}
}
