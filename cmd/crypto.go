package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/siteprobe-cli/internal/keyring"
)

func newEncryptCmd(a *app) *cobra.Command {
	var (
		recipients    []string
		signWith      string
		symmetric     bool
		armor         bool
		input, output string
		pass          passphraseFlags
	)
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt stdin or a file to recipients or with a passphrase",
		Example: `  echo hello | siteprobe encrypt -r ada@example.com
  SITEPROBE_PASSPHRASE=... siteprobe encrypt --symmetric -i notes.txt -o notes.asc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if symmetric == (len(recipients) > 0) {
				return fmt.Errorf("give either --recipient or --symmetric")
			}
			message, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			var passphrase string
			if symmetric || signWith != "" {
				if passphrase, err = pass.read(); err != nil {
					return err
				}
			}

			mgr, err := a.keyManager(cmd.Context())
			if err != nil {
				return err
			}
			var ciphertext []byte
			if symmetric {
				ciphertext, err = mgr.EncryptSymmetric(cmd.Context(), message, passphrase, armor)
			} else {
				ciphertext, err = mgr.Encrypt(cmd.Context(), keyring.EncryptRequest{
					Recipients: recipients,
					Message:    message,
					Armor:      armor,
					SignWith:   signWith,
					Passphrase: passphrase,
				})
			}
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, ciphertext, 0644)
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVarP(&recipients, "recipient", "r", nil, "recipient key id or email (repeatable)")
	flags.StringVar(&signWith, "sign-with", "", "also sign with this key")
	flags.BoolVar(&symmetric, "symmetric", false, "encrypt with a passphrase instead of keys")
	flags.BoolVar(&armor, "armor", true, "ASCII armor the output")
	flags.StringVarP(&input, "input", "i", "", "input file (default stdin)")
	flags.StringVarP(&output, "output", "o", "", "output file (default stdout)")
	flags.String("home", "", "gpg home directory (default from config)")
	pass.register(cmd.Flags())
	a.bind(cmd, "keyring.home_dir", "home")
	return cmd
}

func newDecryptCmd(a *app) *cobra.Command {
	var (
		input, output string
		pass          passphraseFlags
	)
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt stdin or a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ciphertext, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			passphrase, err := pass.read()
			if err != nil {
				return err
			}
			mgr, err := a.keyManager(cmd.Context())
			if err != nil {
				return err
			}
			plaintext, err := mgr.Decrypt(cmd.Context(), ciphertext, passphrase)
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, plaintext, 0600)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "input file (default stdin)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().String("home", "", "gpg home directory (default from config)")
	pass.register(cmd.Flags())
	a.bind(cmd, "keyring.home_dir", "home")
	return cmd
}

func newSignCmd(a *app) *cobra.Command {
	var (
		keyID, mode   string
		armor         bool
		input, output string
		pass          passphraseFlags
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign stdin or a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signMode, err := parseSignMode(mode)
			if err != nil {
				return err
			}
			message, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			passphrase, err := pass.read()
			if err != nil {
				return err
			}
			mgr, err := a.keyManager(cmd.Context())
			if err != nil {
				return err
			}
			sig, err := mgr.Sign(cmd.Context(), keyring.SignRequest{
				KeyID:      keyID,
				Passphrase: passphrase,
				Message:    message,
				Mode:       signMode,
				Armor:      armor,
			})
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, sig.Data, 0644)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&keyID, "key", "k", "", "signing key id or fingerprint")
	flags.StringVar(&mode, "mode", "detached", "signature layout (detached, clear, inline)")
	flags.BoolVar(&armor, "armor", true, "ASCII armor the output")
	flags.StringVarP(&input, "input", "i", "", "input file (default stdin)")
	flags.StringVarP(&output, "output", "o", "", "output file (default stdout)")
	flags.String("home", "", "gpg home directory (default from config)")
	pass.register(cmd.Flags())
	a.bind(cmd, "keyring.home_dir", "home")
	return cmd
}
