package main

import (
	"os"

	"github.com/spf13/cobra"

	"telegram-assistant-bots/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:          "tgbots",
		Short:        "Personal Telegram assistant bots",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file (optional)")
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "extra .env files, later files win")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "overrides log.level")

	cmd.AddCommand(
		newBotCmd(config.KindWhisper, "ChatGPT answers and voice transcription with summaries", &flags),
		newBotCmd(config.KindNotes, "Stores every message as a Notion page", &flags),
		newBotCmd(config.KindWorkout, "Workout journal backed by the notes API", &flags),
		newBotCmd(config.KindFood, "Food journal backed by the notes API", &flags),
		newBotCmd(config.KindDev, "Development bot with inline buttons", &flags),
		newSleepCmd(&flags),
	)
	return cmd
}

func newBotCmd(kind config.Kind, short string, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   string(kind),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(kind, flags, nil)
			if err != nil {
				return err
			}
			return run(cmd.Context(), kind, cfg)
		},
	}
}

func newSleepCmd(flags *rootFlags) *cobra.Command {
	var local bool
	cmd := newBotCmd(config.KindSleep, "Sleep quality check-ins with an offline queue", flags)
	cmd.Flags().BoolVar(&local, "local", false, "use the backend at "+config.LocalSleepBackend)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(config.KindSleep, flags, func(c *config.Config) {
			if local {
				c.Sleep.BackendURL = config.LocalSleepBackend
			}
		})
		if err != nil {
			return err
		}
		return run(cmd.Context(), config.KindSleep, cfg)
	}
	return cmd
}

func loadConfig(kind config.Kind, flags *rootFlags, adjust func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(config.Options{ConfigPath: flags.configPath, EnvFiles: flags.envFiles})
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if adjust != nil {
		adjust(cfg)
	}
	if err := cfg.Validate(kind); err != nil {
		return nil, err
	}
	return cfg, nil
}
