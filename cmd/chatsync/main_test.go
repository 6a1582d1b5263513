package main

import (
	"bytes"
	"strings"
	"testing"

	"lms-chat-sync/core"
)

func TestCommands_Registered(t *testing.T) {
	want := []string{"auth", "sync", "channel", "match", "settings"}
	for _, name := range want {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("%s command should be registered with root", name)
		}
	}
}

func TestSyncCmd_Flags(t *testing.T) {
	for _, name := range []string{"mapping", "course"} {
		if syncCmd.Flags().Lookup(name) == nil {
			t.Errorf("sync command should have --%s flag", name)
		}
	}
}

func TestChannelCmd_Flags(t *testing.T) {
	for _, name := range []string{"group", "name"} {
		if channelCmd.Flags().Lookup(name) == nil {
			t.Errorf("channel command should have --%s flag", name)
		}
	}
}

func TestRootCmd_SettingsFlags(t *testing.T) {
	if rootCmd.PersistentFlags().Lookup("settings") == nil {
		t.Error("root command should have --settings persistent flag")
	}
	if rootCmd.PersistentFlags().Lookup("settings-file") == nil {
		t.Error("root command should have --settings-file persistent flag")
	}
}

func TestMatchCmd_Args(t *testing.T) {
	if err := matchCmd.Args(matchCmd, []string{}); err == nil {
		t.Error("match command should require at least one name")
	}
	if err := matchCmd.Args(matchCmd, []string{"Team A", "Team B"}); err != nil {
		t.Errorf("match command should accept several names: %v", err)
	}
}

func TestSettingsSetCmd_Args(t *testing.T) {
	if err := settingsSetCmd.Args(settingsSetCmd, []string{"host"}); err == nil {
		t.Error("settings set should reject a single arg")
	}
	if err := settingsSetCmd.Args(settingsSetCmd, []string{"host", "chat.example.org"}); err != nil {
		t.Errorf("settings set should accept key and value: %v", err)
	}
}

func TestSyncCmd_RequiresExactlyOneTarget(t *testing.T) {
	syncMappingID, syncCourseID = 0, 0
	if err := syncCmd.RunE(syncCmd, nil); err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Fatalf("expected target error, got %v", err)
	}
	syncMappingID, syncCourseID = 1, 2
	defer func() { syncMappingID, syncCourseID = 0, 0 }()
	if err := syncCmd.RunE(syncCmd, nil); err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Fatalf("expected target error, got %v", err)
	}
}

func TestPrintMatches(t *testing.T) {
	filter := core.NewGroupFilter("/^Team/i\n[")
	var buf bytes.Buffer
	printMatches(&buf, filter, []string{"team blue", "Staff"})

	out := buf.String()
	if !strings.Contains(out, "match  team blue") {
		t.Errorf("expected team blue to match, got %q", out)
	}
	if !strings.Contains(out, "skip   Staff") {
		t.Errorf("expected Staff to be skipped, got %q", out)
	}
	if !strings.Contains(out, "invalid pattern [") {
		t.Errorf("expected invalid pattern line, got %q", out)
	}
}

func TestFormatPatterns(t *testing.T) {
	if got := formatPatterns(nil); got != "(none)" {
		t.Errorf("formatPatterns(nil) = %q, want (none)", got)
	}
	if got := formatPatterns([]string{"/^A/", "B"}); got != "[/^A/, B]" {
		t.Errorf("formatPatterns() = %q", got)
	}
}

func TestPrintSettings_MasksPassword(t *testing.T) {
	var buf bytes.Buffer
	printSettings(&buf, core.ChatSettings{
		Host:       "chat.example.org",
		Port:       "443",
		Username:   "sync-bot",
		Password:   "super-secret-pw",
		GroupRegex: "{^Team}\n{^Lab",
	})

	out := buf.String()
	if strings.Contains(out, "super-secret-pw") {
		t.Fatalf("password leaked: %q", out)
	}
	if !strings.Contains(out, "password:  ***t-pw") {
		t.Errorf("expected masked password, got %q", out)
	}
	if !strings.Contains(out, "url:       https://chat.example.org:443") {
		t.Errorf("expected base url, got %q", out)
	}
	if !strings.Contains(out, "patterns:  [{^Team}]") {
		t.Errorf("expected bracket pattern listed, got %q", out)
	}
	if !strings.Contains(out, "invalid:   {^Lab") {
		t.Errorf("expected unclosed pattern reported, got %q", out)
	}
}

func TestPrintSettings_EmptyPassword(t *testing.T) {
	var buf bytes.Buffer
	printSettings(&buf, core.ChatSettings{Host: "h"})
	if !strings.Contains(buf.String(), "password:  \n") {
		t.Errorf("empty password should print empty, got %q", buf.String())
	}
}

func TestIsSettingKey(t *testing.T) {
	if !isSettingKey("groupregex") {
		t.Error("groupregex should be a setting key")
	}
	if isSettingKey("color") {
		t.Error("color should not be a setting key")
	}
}
