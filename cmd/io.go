package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// DefaultPassphraseEnv is read when no passphrase file is given.
const DefaultPassphraseEnv = "SITEPROBE_PASSPHRASE"

type writeCloser interface {
	io.Writer
	Close() error
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// passphraseFlags are shared by every command that unlocks a key.
type passphraseFlags struct {
	file string
	env  string
}

func (p *passphraseFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&p.file, "passphrase-file", "", "read the passphrase from the first line of this file")
	flags.StringVar(&p.env, "passphrase-env", DefaultPassphraseEnv, "environment variable holding the passphrase")
}

// read returns the passphrase. It never comes from the command line itself,
// where it would show up in process listings.
func (p *passphraseFlags) read() (string, error) {
	if p.file != "" {
		data, err := os.ReadFile(p.file)
		if err != nil {
			return "", fmt.Errorf("reading passphrase file: %w", err)
		}
		line, _, _ := strings.Cut(string(data), "\n")
		return strings.TrimRight(line, "\r"), nil
	}
	return os.Getenv(p.env), nil
}

// readInput reads path, or the command's stdin when path is empty or "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return data, nil
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(cmd *cobra.Command, path string, data []byte, perm os.FileMode) error {
	out, err := openOutput(cmd, path, perm)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
