package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"lms-chat-sync/core"
)

var (
	settingsSource string
	settingsFile   string
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Operate the LMS to chat channel synchronization",
	Long: `chatsync runs channel synchronization for mapped LMS courses and inspects
the chat connection without going through the admin API.

Chat settings are read from the source given by SETTINGS_SOURCE (db, file or env)
unless --settings overrides it.`,
	SilenceUsage: true,
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authenticate against the chat server and print the session state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		settings, closeDB, err := loadSettings(ctx)
		if err != nil {
			return err
		}
		defer closeDB()

		client, err := core.NewChatClient(ctx, settings, core.ChatClientOptions(loadConfig())...)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "url:   %s\n", client.BaseURL())
		fmt.Fprintf(out, "mode:  %s\n", client.Mode())
		fmt.Fprintf(out, "state: %s\n", client.State())
		if _, err := client.Session(); err != nil {
			return err
		}
		return nil
	},
}

var (
	syncMappingID int64
	syncCourseID  int64
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create missing chat channels for one mapped course",
	Long: `sync runs one synchronization and prints the report as JSON.

Exactly one of --mapping or --course is required. The command exits non-zero
when the run could not start or when any channel operation failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (syncMappingID > 0) == (syncCourseID > 0) {
			return errors.New("exactly one of --mapping or --course is required")
		}
		ctx := cmd.Context()
		svc, closeDB, err := openService(ctx)
		if err != nil {
			return err
		}
		defer closeDB()

		var report *core.SyncReport
		if syncMappingID > 0 {
			report, err = svc.SyncMapping(ctx, syncMappingID)
		} else {
			report, err = svc.SyncCourse(ctx, syncCourseID)
		}
		if err != nil {
			return err
		}
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.OK() {
			return fmt.Errorf("sync finished with %d errors", len(report.Errors))
		}
		return nil
	},
}

var (
	channelGroupID int64
	channelName    string
)

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Check whether the chat channel of a group exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (channelGroupID > 0) == (channelName != "") {
			return errors.New("exactly one of --group or --name is required")
		}
		ctx := cmd.Context()
		svc, closeDB, err := openService(ctx)
		if err != nil {
			return err
		}
		defer closeDB()
		out := cmd.OutOrStdout()

		if channelGroupID > 0 {
			group, id, ok, err := svc.ChannelForGroup(ctx, channelGroupID)
			if err != nil {
				return err
			}
			return writeJSON(out, map[string]any{"group": group, "exists": ok, "channel_id": id})
		}

		id, err := svc.Synchronizer().LookupPrivateGroup(ctx, channelName)
		switch {
		case err == nil:
			return writeJSON(out, map[string]any{"name": channelName, "exists": true, "channel_id": id})
		case errors.Is(err, core.ErrChannelNotFound):
			return writeJSON(out, map[string]any{"name": channelName, "exists": false})
		default:
			return err
		}
	},
}

var matchCmd = &cobra.Command{
	Use:   "match NAME...",
	Short: "Show which group names pass the configured group filter",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, closeDB, err := loadSettings(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()

		filter := core.NewGroupFilter(settings.GroupRegex)
		printMatches(cmd.OutOrStdout(), filter, args)
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or change stored chat settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective chat settings with the password masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, closeDB, err := loadSettings(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB()

		printSettings(cmd.OutOrStdout(), settings)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Store one chat setting in the database",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.ToLower(strings.TrimSpace(args[0]))
		if !isSettingKey(key) {
			return fmt.Errorf("unknown setting %q", args[0])
		}
		ctx := cmd.Context()
		cfg := core.Load()
		db, err := core.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := core.EnsureSchema(ctx, db); err != nil {
			return err
		}
		value := strings.ReplaceAll(args[1], `\n`, "\n")
		if err := core.NewPgSettingsRepository(db).Set(ctx, key, value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", key)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsSource, "settings", "", "settings source override: db, file or env")
	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings-file", "", "YAML settings file used with --settings=file")

	syncCmd.Flags().Int64Var(&syncMappingID, "mapping", 0, "course mapping id")
	syncCmd.Flags().Int64Var(&syncCourseID, "course", 0, "LMS course id")

	channelCmd.Flags().Int64Var(&channelGroupID, "group", 0, "LMS group id")
	channelCmd.Flags().StringVar(&channelName, "name", "", "chat channel name")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(authCmd, syncCmd, channelCmd, matchCmd, settingsCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() core.Config {
	cfg := core.Load()
	if settingsSource != "" {
		cfg.SettingsSource = strings.ToLower(settingsSource)
	}
	if settingsFile != "" {
		cfg.SettingsFile = settingsFile
	}
	return cfg
}

// loadSettings reads chat settings, connecting to the database only when the
// settings live there.
func loadSettings(ctx context.Context) (core.ChatSettings, func(), error) {
	cfg := loadConfig()
	var db *pgxpool.Pool
	closeDB := func() {}
	if cfg.SettingsSource == core.SettingsSourceDB {
		var err error
		if db, err = core.Connect(ctx, cfg.DatabaseURL); err != nil {
			return core.ChatSettings{}, closeDB, fmt.Errorf("connect database: %w", err)
		}
		closeDB = db.Close
	}
	provider, err := core.OpenSettingsProvider(cfg, db)
	if err != nil {
		closeDB()
		return core.ChatSettings{}, func() {}, err
	}
	settings, err := core.LoadChatSettings(ctx, provider)
	if err != nil {
		closeDB()
		return core.ChatSettings{}, func() {}, err
	}
	return settings, closeDB, nil
}

func openService(ctx context.Context) (*core.SyncService, func(), error) {
	cfg := loadConfig()
	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	svc, err := core.NewSyncService(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return svc, db.Close, nil
}

func printMatches(w io.Writer, filter *core.GroupFilter, names []string) {
	for _, name := range names {
		mark := "skip "
		if filter.Match(name) {
			mark = "match"
		}
		fmt.Fprintf(w, "%s  %s\n", mark, name)
	}
	for _, inv := range filter.Invalid() {
		fmt.Fprintf(w, "invalid pattern %s: %s\n", inv.Pattern, inv.Error)
	}
}

func printSettings(w io.Writer, settings core.ChatSettings) {
	fmt.Fprintf(w, "host:      %s\n", settings.Host)
	fmt.Fprintf(w, "port:      %s\n", settings.Port)
	fmt.Fprintf(w, "url:       %s\n", settings.BaseURL())
	fmt.Fprintf(w, "usetoken:  %t\n", settings.UseToken)
	fmt.Fprintf(w, "username:  %s\n", settings.Username)
	fmt.Fprintf(w, "password:  %s\n", core.MaskSecret(settings.Password))
	filter := core.NewGroupFilter(settings.GroupRegex)
	fmt.Fprintf(w, "patterns:  %s\n", formatPatterns(filter.Patterns()))
	for _, inv := range filter.Invalid() {
		fmt.Fprintf(w, "invalid:   %s (%s)\n", inv.Pattern, inv.Error)
	}
}

func formatPatterns(patterns []string) string {
	if len(patterns) == 0 {
		return "(none)"
	}
	return "[" + strings.Join(patterns, ", ") + "]"
}

func isSettingKey(key string) bool {
	switch key {
	case core.SettingHost, core.SettingPort, core.SettingProtocol, core.SettingUseToken,
		core.SettingUsername, core.SettingPassword, core.SettingGroupRegex:
		return true
	}
	return false
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
