package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSettings struct{ err error }

func (f failingSettings) Get(context.Context, string) (string, error) { return "", f.err }

func TestLoadChatSettings(t *testing.T) {
	provider := MapSettings{
		SettingHost:       " chat.example.org ",
		SettingPort:       "3000",
		SettingProtocol:   "1",
		SettingUseToken:   "0",
		SettingUsername:   "bot",
		SettingPassword:   "pw",
		SettingGroupRegex: "^Team\n/^lab/i",
	}

	s, err := LoadChatSettings(context.Background(), provider)
	require.NoError(t, err)
	assert.Equal(t, ChatSettings{
		Host:       "chat.example.org",
		Port:       "3000",
		PlainHTTP:  true,
		UseToken:   false,
		Username:   "bot",
		Password:   "pw",
		GroupRegex: "^Team\n/^lab/i",
	}, s)
	assert.Equal(t, "http://chat.example.org:3000", s.BaseURL())
}

func TestLoadChatSettings_MissingKeysAreEmpty(t *testing.T) {
	s, err := LoadChatSettings(context.Background(), MapSettings{SettingHost: "h"})
	require.NoError(t, err)
	assert.False(t, s.PlainHTTP)
	assert.False(t, s.UseToken)
	assert.Empty(t, s.GroupRegex)
}

func TestLoadChatSettings_ProviderFailure(t *testing.T) {
	_, err := LoadChatSettings(context.Background(), failingSettings{err: errors.New("db down")})
	assert.ErrorIs(t, err, ErrDataAccess)
	assert.Contains(t, err.Error(), "db down")
}

func TestLoadChatSettings_InvalidBool(t *testing.T) {
	_, err := LoadChatSettings(context.Background(), MapSettings{SettingHost: "h", SettingUseToken: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestParseSettingBool(t *testing.T) {
	for _, v := range []string{"", "0", "false", "No", "off"} {
		got, err := parseSettingBool(v)
		if err != nil || got {
			t.Errorf("parseSettingBool(%q) = %v, %v; want false", v, got, err)
		}
	}
	for _, v := range []string{"1", "true", "YES", " on "} {
		got, err := parseSettingBool(v)
		if err != nil || !got {
			t.Errorf("parseSettingBool(%q) = %v, %v; want true", v, got, err)
		}
	}
}

func TestParseSettingsYAML(t *testing.T) {
	doc := []byte(`
local_chatsync:
  host: chat.example.org
  port: 443
  usetoken: true
  username: bot
  password: "s3cret"
  groupregex:
    - ^Team
    - /^lab/i
other_plugin:
  host: ignored
`)
	m, err := parseSettingsYAML(doc)
	require.NoError(t, err)
	assert.Equal(t, "chat.example.org", m[SettingHost])
	assert.Equal(t, "443", m[SettingPort])
	assert.Equal(t, "true", m[SettingUseToken])
	assert.Equal(t, "^Team\n/^lab/i", m[SettingGroupRegex])
	assert.Equal(t, []string{"groupregex", "host", "password", "port", "username", "usetoken"}, m.Keys())

	s, err := LoadChatSettings(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, s.UseToken)
	assert.Equal(t, "https://chat.example.org:443", s.BaseURL())
}

func TestParseSettingsYAML_BlockString(t *testing.T) {
	doc := []byte("local_chatsync:\n  groupregex: |\n    ^Team\n    ^Lab\n")
	m, err := parseSettingsYAML(doc)
	require.NoError(t, err)
	assert.Equal(t, "^Team\n^Lab\n", m[SettingGroupRegex])
}

func TestParseSettingsYAML_Errors(t *testing.T) {
	_, err := parseSettingsYAML([]byte("other: {host: x}\n"))
	assert.ErrorIs(t, err, ErrInvalidSetting)

	_, err = parseSettingsYAML([]byte("local_chatsync:\n  host: {nested: true}\n"))
	assert.ErrorIs(t, err, ErrInvalidSetting)

	_, err = parseSettingsYAML([]byte("local_chatsync: [\n"))
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestLoadSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("local_chatsync:\n  host: file-host\n"), 0o600))

	m, err := LoadSettingsFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file-host", m[SettingHost])

	_, err = LoadSettingsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrDataAccess)
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("CHAT_HOST", "env-host")
	t.Setenv("CHAT_PORT", "8443")
	t.Setenv("CHAT_PLAIN_HTTP", "true")
	t.Setenv("CHAT_USE_TOKEN", "")
	t.Setenv("CHAT_USERNAME", "u")
	t.Setenv("CHAT_PASSWORD", "p")
	t.Setenv("CHAT_GROUP_REGEX", `^Team\n^Lab`)

	s, err := LoadChatSettings(context.Background(), SettingsFromEnv())
	require.NoError(t, err)
	assert.Equal(t, "http://env-host:8443", s.BaseURL())
	assert.False(t, s.UseToken)
	assert.Equal(t, "^Team\n^Lab", s.GroupRegex)
}

func TestOpenSettingsProvider(t *testing.T) {
	_, err := OpenSettingsProvider(Config{SettingsSource: SettingsSourceDB}, nil)
	assert.Error(t, err)

	p, err := OpenSettingsProvider(Config{SettingsSource: SettingsSourceEnv}, nil)
	require.NoError(t, err)
	assert.IsType(t, MapSettings{}, p)

	_, err = OpenSettingsProvider(Config{SettingsSource: "ldap"}, nil)
	assert.Error(t, err)
}
