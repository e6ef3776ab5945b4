// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/config"
	"github.com/xkilldash9x/siteprobe-cli/internal/keyring"
	"github.com/xkilldash9x/siteprobe-cli/internal/observability"
)

// app carries the state shared by one command tree. Every root command gets
// its own, so flags and config never leak between interactive commands.
type app struct {
	cfgFile string
	envFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *zap.Logger

	// bindings maps a command to the config keys its flags override.
	bindings map[*cobra.Command]map[string]string

	// keyringOpts are appended when a key manager is built.
	keyringOpts []keyring.Option
}

func newApp() *app {
	return &app{bindings: make(map[*cobra.Command]map[string]string)}
}

// bind records that flag on cmd overrides the config key.
func (a *app) bind(cmd *cobra.Command, key, flag string) {
	if a.bindings[cmd] == nil {
		a.bindings[cmd] = make(map[string]string)
	}
	a.bindings[cmd][key] = flag
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	return newRootCmd(newApp())
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "siteprobe",
		Short: "siteprobe collects web pages, profiles their backends and manages PGP keys.",
		Long: `siteprobe fetches a single web page and extracts its metadata, text and links,
infers the technologies, authentication mechanisms, API endpoints and site
structure behind it, and manages a private GnuPG keyring.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newVersionCmd(),
		newCollectCmd(a),
		newAnalyzeCmd(a),
		newKeysCmd(a),
		newEncryptCmd(a),
		newDecryptCmd(a),
		newSignCmd(a),
	)
	return rootCmd
}

// Execute runs the command line in os.Args.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		reportError(rootCmd, err)
	}
	observability.Sync()
	return err
}

// ExecuteArgs runs one interactive line. Errors are printed, not returned
// as exit codes.
func ExecuteArgs(ctx context.Context, args []string) error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		reportError(rootCmd, err)
	}
	return err
}

func reportError(cmd *cobra.Command, err error) {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
}

// initialize loads .env, the config file and the environment, applies flag
// overrides for cmd and starts the logger.
func (a *app) initialize(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading %s: %w", a.envFile, err)
		}
	}

	v := viper.New()
	config.SetDefaults(v)
	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for key, flag := range a.bindings[cmd] {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}
	a.v = v
	a.cfg = cfg

	if a.logger == nil {
		a.logger = observability.InitializeLogger(cfg.LoggerCfg)
	}
	a.logger.Debug("Configuration loaded.",
		zap.String("command", cmd.CommandPath()),
		zap.String("config_file", v.ConfigFileUsed()),
	)
	return nil
}

// openOutput returns a writer for path, or the command's stdout when path is
// empty or "-".
func openOutput(cmd *cobra.Command, path string, perm os.FileMode) (writeCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{cmd.OutOrStdout()}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return f, nil
}
