/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-shellwords"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ponyo877/collab/server/adaptor/collabpb"
)

var (
	cfgFile           string
	grpcServerAddress string
	collabClient      collabpb.CollabClient
	grpcConn          *grpc.ClientConn
)

const (
	grpcServerAddressKey = "grpc_server_address"
	userIDKey            = "user_id"
	displayNameKey       = "display_name"
	currentRoomKey       = "current_room"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "collab",
	Short: "Command line client for the collab server",
	Long: `collab talks to a collab server over gRPC. It lists rooms and the
people in them, follows a room's event stream and publishes deltas.

Run without arguments to enter the interactive shell.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		conn, err := grpc.NewClient(grpcServerAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return xerrors.Errorf("did not connect to gRPC server: %w", err)
		}
		grpcConn = conn
		collabClient = collabpb.NewCollabClient(conn)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if grpcConn != nil {
			conn := grpcConn
			grpcConn = nil
			return conn.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// one-shot
	if len(os.Args) > 1 {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	// REPL
	fmt.Println("entering interactive mode, type 'exit' to quit")
	rooms := newRoomCache()
	for {
		line := prompt.Input(promptPrefix(), completer(rootCmd, rooms),
			prompt.OptionTitle("collab"),
			prompt.OptionPrefixTextColor(prompt.Cyan),
		)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		args, err := shellwords.Parse(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error parsing command:", err)
			continue
		}
		rootCmd.SetArgs(args)
		_ = rootCmd.Execute()
		resetFlags(rootCmd)
		rooms.invalidate()
	}
}

func promptPrefix() string {
	if room := viper.GetString(currentRoomKey); room != "" {
		return room + " ❯❯❯ "
	}
	return "❯❯❯ "
}

// resetFlags puts every flag back to its default so one REPL line does not
// leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, child := range cmd.Commands() {
		resetFlags(child)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.collab.yaml)")
	rootCmd.PersistentFlags().String("grpc-server", "localhost:50051", "Address of the gRPC collab server (e.g., localhost:50051)")
	rootCmd.PersistentFlags().String("user", "", "User id to join rooms as")
	rootCmd.PersistentFlags().String("name", "", "Display name to join rooms as")

	_ = viper.BindPFlag(grpcServerAddressKey, rootCmd.PersistentFlags().Lookup("grpc-server"))
	_ = viper.BindPFlag(userIDKey, rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag(displayNameKey, rootCmd.PersistentFlags().Lookup("name"))
	viper.SetDefault(grpcServerAddressKey, "localhost:50051")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".collab" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".collab")
	}

	viper.SetEnvPrefix("collab")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !xerrors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}

	// First run: pick a stable user id and remember it.
	if viper.GetString(userIDKey) == "" {
		viper.Set(userIDKey, strings.ToLower(ulid.Make().String()))
		if err := saveConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "Error writing config file:", err)
		}
	}

	grpcServerAddress = viper.GetString(grpcServerAddressKey)
}

// saveConfig writes the current settings back to the config file, creating
// it on first use.
func saveConfig() error {
	err := viper.WriteConfig()
	var notFound viper.ConfigFileNotFoundError
	if xerrors.As(err, &notFound) {
		return viper.SafeWriteConfig()
	}
	return err
}

func callContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	return withIdentity(ctx), cancel
}
