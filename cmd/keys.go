package cmd

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/keyring"
	"github.com/xkilldash9x/siteprobe-cli/internal/reporting"
)

var cliJSON = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// keyManager builds a Manager for the configured gpg home.
func (a *app) keyManager(ctx context.Context) (*keyring.Manager, error) {
	return keyring.New(ctx, a.cfg.KeyringCfg, a.logger, a.keyringOpts...)
}

// printJSON writes v as indented JSON to the command's stdout.
func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := cliJSON.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
	return err
}

// newKeysCmd creates the `keys` command group.
func newKeysCmd(a *app) *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the private GnuPG keyring",
		Long: `Generates, lists, exports, imports and deletes keys in siteprobe's own GnuPG
home directory (keyring.home_dir), which is created with owner-only access.`,
	}

	homeFlag := func(cmd *cobra.Command) {
		cmd.Flags().String("home", "", "gpg home directory (default from config)")
		a.bind(cmd, "keyring.home_dir", "home")
	}

	subs := []*cobra.Command{
		newKeysGenerateCmd(a),
		newKeysListCmd(a),
		newKeysExportCmd(a),
		newKeysImportCmd(a),
		newKeysDeleteCmd(a),
		newKeysAuthSimCmd(a),
	}
	for _, sub := range subs {
		homeFlag(sub)
	}
	keysCmd.AddCommand(subs...)
	return keysCmd
}

func newKeysGenerateCmd(a *app) *cobra.Command {
	var (
		spec keyring.KeySpec
		pass passphraseFlags
	)
	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Generate a new key pair",
		Example: `  SITEPROBE_PASSPHRASE=... siteprobe keys generate --name "Ada Lovelace" --email ada@example.com`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase, err := pass.read()
			if err != nil {
				return err
			}
			if passphrase == "" {
				return fmt.Errorf("passphrase cannot be empty for key generation (set $%s or --passphrase-file)", pass.env)
			}
			spec.Passphrase = passphrase

			mgr, err := a.keyManager(cmd.Context())
			if err != nil {
				return err
			}
			fpr, err := mgr.GenerateKey(cmd.Context(), spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated key %s\n", fpr)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&spec.Name, "name", "", "real name for the user ID")
	flags.StringVar(&spec.Email, "email", "", "email address for the user ID")
	flags.StringVar(&spec.Comment, "comment", "", "optional user ID comment")
	flags.StringVar(&spec.KeyType, "type", "", "key algorithm (default from config)")
	flags.IntVar(&spec.KeyLength, "length", 0, "key length in bits (default from config)")
	pass.register(cmd.Flags())
	return cmd
}

func newKeysListCmd(a *app) *cobra.Command {
	var (
		secret         bool
		format, output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List public or secret keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.keyManager(cmd.Context())
			if err != nil {
				return err
			}
			keys, err := mgr.ListKeys(cmd.Context(), secret)
			if err != nil {
				return err
			}
			rep, err := newReporter(cmd, format, output, a.logger)
			if err != nil {
				return err
			}
			if err := rep.WriteKeys(keys); err != nil {
				rep.Close()
				return err
			}
			return rep.Close()
		},
	}
	cmd.Flags().BoolVar(&secret, "secret", false, "list secret keys")
	cmd.Flags().StringVarP(&format, "format", "f", reporting.FormatText, "output format (text, json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination (default stdout)")
	return cmd
}

func newKeysExportCmd(a *app) *cobra.Command {
	var (
		req    keyring.ExportRequest
		output string
		pass   passphraseFlags
	)
	cmd := &cobra.Command{
		Use:   "export <key-id>",
		Short: "Export a public or secret key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.KeyID = args[0]
			if req.Secret {
				passphrase, err := pass.read()
				if err != nil {
					return err
				}
				req.Passphrase = passphrase
			}

			mgr, err := a.keyManager(cmd.Context())
			if err != nil {
				return err
			}
			if output != "" && output != "-" {
				if err := mgr.ExportKeyToFile(cmd.Context(), req, output); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", req.KeyID, output)
				return nil
			}
			data, err := mgr.ExportKey(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&req.Secret, "secret", false, "export the secret key")
	cmd.Flags().BoolVar(&req.Armor, "armor", true, "ASCII armor the output")
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default stdout)")
	pass.register(cmd.Flags())
	return cmd
}

func newKeysImportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import keys from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.keyManager(cmd.Context())
			if err != nil {
				return err
			}
			res, err := mgr.ImportKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d, imported %d, unchanged %d\n", res.Considered, res.Imported, res.Unchanged)
			for _, fpr := range res.Fingerprints {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", fpr)
			}
			return nil
		},
	}
	return cmd
}

func newKeysDeleteCmd(a *app) *cobra.Command {
	var secret bool
	cmd := &cobra.Command{
		Use:   "delete <fingerprint>",
		Short: "Delete a key; with --secret the secret key is removed first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.keyManager(cmd.Context())
			if err != nil {
				return err
			}
			if err := mgr.DeleteKey(cmd.Context(), args[0], secret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&secret, "secret", false, "also delete the secret key")
	return cmd
}

func newKeysAuthSimCmd(a *app) *cobra.Command {
	var (
		target keyring.Target
		pass   passphraseFlags
	)
	cmd := &cobra.Command{
		Use:   "auth-sim <fingerprint>",
		Short: "Demonstrate proof of key possession (educational, nothing is sent)",
		Long: `Signs a locally generated challenge with the key and verifies the signature
against the key's public half. This is a demonstration only: no connection is
made to the target and no real authentication takes place. Use it only with
keys and systems you own.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase, err := pass.read()
			if err != nil {
				return err
			}
			mgr, err := a.keyManager(cmd.Context())
			if err != nil {
				return err
			}
			res, err := mgr.SimulateAuthentication(cmd.Context(), args[0], passphrase, target)
			if err != nil {
				return err
			}
			if !res.Success {
				a.logger.Warn("Simulation did not succeed.", zap.String("details", res.Details))
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&target.Type, "target-type", "ssh", "kind of system being simulated")
	cmd.Flags().StringVar(&target.Host, "host", "", "host named in the challenge")
	pass.register(cmd.Flags())
	return cmd
}

// parseSignMode maps a flag value to a keyring.SignMode.
func parseSignMode(s string) (keyring.SignMode, error) {
	switch strings.ToLower(s) {
	case "", "detached":
		return keyring.SignDetached, nil
	case "clear", "clearsign":
		return keyring.SignClear, nil
	case "inline":
		return keyring.SignInline, nil
	}
	return 0, fmt.Errorf("unknown signature mode %q (detached, clear, inline)", s)
}
