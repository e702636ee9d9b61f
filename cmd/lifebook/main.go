package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/lifebook/config"
	lifelogger "github.com/aschepis/backscratcher/lifebook/logger"
)

// shutdownTimeout bounds the final flush of pending writes.
const shutdownTimeout = 30 * time.Second

var flags struct {
	configPath string
	logFile    string
	pretty     bool
	secret     string
	secretKind string
	uid        string
}

var (
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lifebook",
	Short: "Turn conversations and keepsakes into a private life story",
	Long: `lifebook keeps a private, encrypted story of your life.

Tell it about your life; it proposes memories and people you can confirm or
discard. Confirmed memories are placed on a timeline of eras. Everything is
stored in a local vault and, for hosted identities, mirrored remotely.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if flags.logFile != "" && flags.pretty {
			return fmt.Errorf("--logfile and --pretty are mutually exclusive")
		}
		var err error
		cfg, err = config.LoadConfig(flags.configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logFile := flags.logFile
		if logFile == "" && !flags.pretty {
			logFile = cfg.LogFile
		}
		logger, err = lifelogger.InitWithOptions(logFile, flags.pretty)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if flags.secret == "" {
			flags.secret = os.Getenv("LIFEBOOK_SECRET")
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to config file (default $LIFEBOOK_CONFIG_PATH or ~/.lifebook/config.yaml)")
	pf.StringVar(&flags.logFile, "logfile", "", "Path to log file (default from config)")
	pf.BoolVar(&flags.pretty, "pretty", false, "Log to stderr with pretty console output")
	pf.StringVar(&flags.secret, "secret", "", "Vault secret phrase (default $LIFEBOOK_SECRET)")
	pf.StringVar(&flags.secretKind, "secret-kind", "passcode", "How the secret was chosen: passcode or email")
	pf.StringVar(&flags.uid, "uid", "", "Hosted identity uid; when empty the uid is derived from the secret")

	rootCmd.AddCommand(
		onboardCmd,
		tellCmd,
		uploadCmd,
		draftsCmd,
		confirmCmd,
		discardCmd,
		editCmd,
		deleteCmd,
		timelineCmd,
		entitiesCmd,
		vaultIDCmd,
		resyncCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withStory opens the story, runs f and flushes every pending write.
func withStory(cmd *cobra.Command, f func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := f(ctx, a)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to flush story")
		if runErr == nil {
			runErr = fmt.Errorf("failed to save story: %w", err)
		}
	}
	return runErr
}
