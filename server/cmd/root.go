package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"

	"github.com/ponyo877/collab/server/domain"
	"github.com/ponyo877/collab/server/repository"
	"github.com/ponyo877/collab/server/usecase"
)

var cfgFile string

const (
	httpAddrKey               = "http_addr"
	grpcAddrKey               = "grpc_addr"
	dbPathKey                 = "db_path"
	requireRegisteredRoomsKey = "require_registered_rooms"
	gracePeriodKey            = "grace_period"
	idleThresholdKey          = "idle_threshold"
	sweepIntervalKey          = "sweep_interval"
	maxPayloadBytesKey        = "max_payload_bytes"
	pubsubKey                 = "pubsub"
	redisAddrKey              = "redis_addr"
	logLevelKey               = "log_level"
)

var rootCmd = &cobra.Command{
	Use:   "collabd",
	Short: "Real-time presence and delta relay for collaborative diagrams",
	Long: `collabd keeps track of who is looking at which diagram, relays
cursor and shape deltas between them and reports connection quality.

Run "collabd serve" to start the server. The other commands manage the
room directory and read the audit log from the same database.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./collabd.yaml)")
	flags.String("db", "./collab.db", "Path of the sqlite database")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")

	_ = viper.BindPFlag(dbPathKey, flags.Lookup("db"))
	_ = viper.BindPFlag(logLevelKey, flags.Lookup("log-level"))

	defaults := domain.DefaultConfig()
	viper.SetDefault(httpAddrKey, ":8080")
	viper.SetDefault(grpcAddrKey, ":50051")
	viper.SetDefault(dbPathKey, "./collab.db")
	viper.SetDefault(requireRegisteredRoomsKey, false)
	viper.SetDefault(gracePeriodKey, defaults.GracePeriod)
	viper.SetDefault(idleThresholdKey, defaults.IdleThreshold)
	viper.SetDefault(sweepIntervalKey, defaults.SweepInterval)
	viper.SetDefault(maxPayloadBytesKey, defaults.MaxPayloadBytes)
	viper.SetDefault(pubsubKey, "memory")
	viper.SetDefault(redisAddrKey, "localhost:6379")
	viper.SetDefault(logLevelKey, "info")
}

// initConfig reads .env, the config file and COLLAB_* variables, in that
// order of increasing precedence.
func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "Error reading .env:", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("collabd")
	}

	viper.SetEnvPrefix("collab")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !xerrors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}

func engineConfig() domain.Config {
	return domain.Config{
		GracePeriod:     viper.GetDuration(gracePeriodKey),
		IdleThreshold:   viper.GetDuration(idleThresholdKey),
		SweepInterval:   viper.GetDuration(sweepIntervalKey),
		MaxPayloadBytes: viper.GetInt(maxPayloadBytesKey),
	}
}

func newLogger(cmd *cobra.Command) slog.Logger {
	logger := slog.Make(sloghuman.Sink(cmd.ErrOrStderr()))
	switch strings.ToLower(viper.GetString(logLevelKey)) {
	case "debug":
		return logger.Leveled(slog.LevelDebug)
	case "warn":
		return logger.Leveled(slog.LevelWarn)
	case "error":
		return logger.Leveled(slog.LevelError)
	default:
		return logger.Leveled(slog.LevelInfo)
	}
}

func openRepository(ctx context.Context) (*sql.DB, usecase.Repository, error) {
	db, err := repository.Open(ctx, viper.GetString(dbPathKey))
	if err != nil {
		return nil, nil, err
	}
	return db, repository.NewRepository(db), nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 10*time.Second)
}
