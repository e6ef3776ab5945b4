// Package keyring manages OpenPGP keys and messages by driving the gpg
// binary against a private home directory. No cryptography happens in
// process except for read-only inspection of key files and signatures.
package keyring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/config"
)

// Manager wraps one gpg home directory. gpg serializes access to its own
// keyring; Manager adds no locking of its own.
type Manager struct {
	cfg     config.KeyringConfig
	home    string
	runner  Runner
	logger  *zap.Logger
	now     func() time.Time
	version string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRunner replaces the process runner, typically with a fake in tests.
func WithRunner(r Runner) Option {
	return func(m *Manager) { m.runner = r }
}

// WithClock overrides the time source used for simulation challenges.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New prepares the home directory with owner-only permissions and checks
// that gpg can be started. Any failure is a *config.ConfigurationError.
func New(ctx context.Context, cfg config.KeyringConfig, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{cfg: cfg, logger: logger.Named("keyring"), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}

	home, err := homedir.Expand(cfg.HomeDir)
	if err != nil {
		return nil, &config.ConfigurationError{Component: "keyring", Err: fmt.Errorf("expand home dir %q: %w", cfg.HomeDir, err)}
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, &config.ConfigurationError{Component: "keyring", Err: fmt.Errorf("create home dir: %w", err)}
	}
	if err := os.Chmod(home, 0700); err != nil {
		return nil, &config.ConfigurationError{Component: "keyring", Err: fmt.Errorf("restrict home dir: %w", err)}
	}
	m.home = home

	if m.runner == nil {
		r, err := NewExecRunner(cfg.GPGBinary)
		if err != nil {
			m.logger.Error("GnuPG binary not found.", zap.String("binary", cfg.GPGBinary), zap.Error(err))
			return nil, &config.ConfigurationError{Component: "keyring", Err: fmt.Errorf("gpg binary %q not found: %w", cfg.GPGBinary, err)}
		}
		m.runner = r
	}

	out, err := m.runner.Run(ctx, Invocation{Args: []string{"--homedir", home, "--version"}})
	if err == nil && out.ExitCode != 0 {
		err = fmt.Errorf("exit status %d", out.ExitCode)
	}
	version := strings.TrimSpace(strings.SplitN(string(out.Stdout), "\n", 2)[0])
	if err == nil && version == "" {
		err = errors.New("empty version output")
	}
	if err != nil {
		m.logger.Error("GnuPG version check failed.", zap.Error(err))
		return nil, &config.ConfigurationError{Component: "keyring", Err: fmt.Errorf("gpg version check: %w", err)}
	}
	m.version = version
	m.logger.Info("GnuPG initialized.", zap.String("version", version), zap.String("home", home))
	return m, nil
}

// Version is the first line of gpg --version.
func (m *Manager) Version() string { return m.version }

// HomeDir is the resolved keyring directory.
func (m *Manager) HomeDir() string { return m.home }

// call describes one gpg invocation. When passphrase is set it is fed on
// fd 0 ahead of stdin and pinentry is put in loopback mode.
type call struct {
	op         string
	args       []string
	stdin      []byte
	passphrase string
}

func (m *Manager) run(ctx context.Context, c call) (Output, Status, error) {
	args := []string{"--homedir", m.home, "--batch", "--yes", "--no-tty", "--status-fd", "2"}
	stdin := c.stdin
	if c.passphrase != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-fd", "0")
		buf := make([]byte, 0, len(c.passphrase)+1+len(c.stdin))
		buf = append(buf, c.passphrase...)
		buf = append(buf, '\n')
		stdin = append(buf, c.stdin...)
	}
	args = append(args, c.args...)

	m.logger.Debug("Running gpg.", zap.String("op", c.op), zap.Strings("args", c.args))
	out, err := m.runner.Run(ctx, Invocation{Args: args, Stdin: stdin})
	if err != nil {
		return out, Status{}, &ManagementError{Op: c.op, Kind: KindToolchain, Err: fmt.Errorf("run gpg: %w", err)}
	}
	return out, parseStatus(out.Stderr), nil
}

func toolchainError(op string, st Status, msg string) *ManagementError {
	return &ManagementError{Op: op, Kind: KindToolchain, Diagnostics: st.Diagnostics, Err: errors.New(msg)}
}

// KeySpec describes a key to generate. Zero KeyType and KeyLength take the
// configured defaults. The key never expires.
type KeySpec struct {
	Name       string
	Email      string
	Comment    string
	Passphrase string
	KeyType    string
	KeyLength  int
}

// GenerateKey creates a key pair and returns its fingerprint.
func (m *Manager) GenerateKey(ctx context.Context, spec KeySpec) (string, error) {
	const op = "generate"
	if spec.Passphrase == "" {
		return "", invalidInput(op, "passphrase cannot be empty for key generation")
	}
	if strings.TrimSpace(spec.Name) == "" && strings.TrimSpace(spec.Email) == "" {
		return "", invalidInput(op, "a name or an email is required")
	}
	for _, v := range []string{spec.Name, spec.Email, spec.Comment, spec.Passphrase, spec.KeyType} {
		if strings.ContainsAny(v, "\r\n") {
			return "", invalidInput(op, "key parameters cannot contain line breaks")
		}
	}
	if spec.KeyType == "" {
		spec.KeyType = m.cfg.KeyType
	}
	if spec.KeyLength == 0 {
		spec.KeyLength = m.cfg.KeyLength
	}

	var params bytes.Buffer
	fmt.Fprintf(&params, "Key-Type: %s\n", spec.KeyType)
	fmt.Fprintf(&params, "Key-Length: %d\n", spec.KeyLength)
	if spec.Name != "" {
		fmt.Fprintf(&params, "Name-Real: %s\n", spec.Name)
	}
	if spec.Email != "" {
		fmt.Fprintf(&params, "Name-Email: %s\n", spec.Email)
	}
	if spec.Comment != "" {
		fmt.Fprintf(&params, "Name-Comment: %s\n", spec.Comment)
	}
	params.WriteString("Expire-Date: 0\n")
	fmt.Fprintf(&params, "Passphrase: %s\n", spec.Passphrase)
	params.WriteString("%commit\n")

	m.logger.Info("Generating key.", zap.String("email", spec.Email), zap.String("type", spec.KeyType), zap.Int("length", spec.KeyLength))
	_, st, err := m.run(ctx, call{op: op, args: []string{"--pinentry-mode", "loopback", "--gen-key"}, stdin: params.Bytes()})
	if err != nil {
		return "", err
	}

	created, ok := st.First("KEY_CREATED")
	if !ok || created.Arg(1) == "" {
		m.logger.Error("Key generation failed.", zap.String("diagnostics", st.Diagnostics))
		return "", toolchainError(op, st, "key generation failed")
	}
	fpr := created.Arg(1)
	m.logger.Info("Key generated.", zap.String("fingerprint", fpr))
	return fpr, nil
}

// ListKeys returns the public keys, or the secret keys when secret is set.
func (m *Manager) ListKeys(ctx context.Context, secret bool) ([]KeyRecord, error) {
	const op = "list"
	mode := "--list-keys"
	if secret {
		mode = "--list-secret-keys"
	}
	out, st, err := m.run(ctx, call{op: op, args: []string{"--with-colons", "--fixed-list-mode", "--with-fingerprint", mode}})
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return nil, toolchainError(op, st, fmt.Sprintf("listing keys failed with exit status %d", out.ExitCode))
	}
	keys := parseColons(out.Stdout)
	m.logger.Info("Listed keys.", zap.Int("count", len(keys)), zap.Bool("secret", secret))
	return keys, nil
}

// ExportRequest selects a key to export. Passphrase is only needed for
// secret keys.
type ExportRequest struct {
	KeyID      string
	Secret     bool
	Armor      bool
	Passphrase string
}

// ExportKey returns the exported key material.
func (m *Manager) ExportKey(ctx context.Context, req ExportRequest) ([]byte, error) {
	const op = "export"
	if strings.TrimSpace(req.KeyID) == "" {
		return nil, invalidInput(op, "key id cannot be empty")
	}
	args := []string{"--export"}
	c := call{op: op}
	if req.Secret {
		m.logger.Warn("Exporting a secret key.", zap.String("key_id", req.KeyID))
		args = []string{"--export-secret-keys"}
		c.passphrase = req.Passphrase
	}
	if req.Armor {
		args = append(args, "--armor")
	}
	c.args = append(args, req.KeyID)

	out, st, err := m.run(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(out.Stdout)) == 0 {
		return nil, &ManagementError{Op: op, Kind: KindNotFound, Diagnostics: st.Diagnostics, Err: fmt.Errorf("%s: %w", req.KeyID, ErrKeyNotFound)}
	}
	return out.Stdout, nil
}

// ExportKeyToFile exports a key and writes it to path. Secret keys are
// written owner-readable only.
func (m *Manager) ExportKeyToFile(ctx context.Context, req ExportRequest, path string) error {
	data, err := m.ExportKey(ctx, req)
	if err != nil {
		return err
	}
	perm := os.FileMode(0644)
	if req.Secret {
		perm = 0600
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return &ManagementError{Op: "export", Kind: KindIO, Err: fmt.Errorf("write key to %s: %w", path, err)}
	}
	m.logger.Info("Key exported.", zap.String("key_id", req.KeyID), zap.String("path", path))
	return nil
}

// ImportResult summarizes a key import.
type ImportResult struct {
	Fingerprints []string  `json:"fingerprints"`
	Inspected    []KeyInfo `json:"inspected,omitempty"`
	Considered   int       `json:"considered"`
	Imported     int       `json:"imported"`
	Unchanged    int       `json:"unchanged"`
}

// ImportKey imports the keys in the file at path. The file is inspected
// locally first so the log names what is about to be imported; gpg's
// IMPORT_OK lines decide what actually was.
func (m *Manager) ImportKey(ctx context.Context, path string) (*ImportResult, error) {
	const op = "import"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManagementError{Op: op, Kind: KindIO, Err: fmt.Errorf("read key file: %w", err)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, invalidInput(op, "key file is empty")
	}

	result := &ImportResult{Fingerprints: []string{}}
	if infos, err := InspectKeyData(data); err != nil {
		m.logger.Warn("Could not inspect key file before import.", zap.String("path", path), zap.Error(err))
	} else {
		result.Inspected = infos
		for _, info := range infos {
			m.logger.Info("Key file entry.", zap.String("fingerprint", info.Fingerprint), zap.Strings("uids", info.UserIDs), zap.Bool("private", info.HasPrivate))
		}
	}

	out, st, err := m.run(ctx, call{op: op, args: []string{"--import"}, stdin: data})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, l := range st.All("IMPORT_OK") {
		fpr := l.Arg(1)
		if _, dup := seen[fpr]; fpr == "" || dup {
			continue
		}
		seen[fpr] = struct{}{}
		result.Fingerprints = append(result.Fingerprints, fpr)
	}
	if res, ok := st.First("IMPORT_RES"); ok {
		result.Considered = atoi(res.Arg(0))
		result.Imported = atoi(res.Arg(2))
		result.Unchanged = atoi(res.Arg(4))
	}

	if len(result.Fingerprints) == 0 {
		if out.ExitCode != 0 || st.Has("IMPORT_PROBLEM") {
			m.logger.Error("Key import failed.", zap.String("path", path), zap.String("diagnostics", st.Diagnostics))
			return nil, toolchainError(op, st, "key import failed")
		}
		m.logger.Warn("Key import processed but no fingerprints reported.", zap.String("path", path))
		return result, nil
	}
	m.logger.Info("Keys imported.", zap.Strings("fingerprints", result.Fingerprints))
	return result, nil
}

// DeleteKey removes a public key, or the secret key when secret is set.
// Deleting a key that is not present succeeds.
func (m *Manager) DeleteKey(ctx context.Context, fingerprint string, secret bool) error {
	const op = "delete"
	if strings.TrimSpace(fingerprint) == "" {
		return invalidInput(op, "fingerprint cannot be empty")
	}
	mode := "--delete-keys"
	if secret {
		mode = "--delete-secret-keys"
		m.logger.Warn("Deleting a secret key.", zap.String("fingerprint", fingerprint))
	}

	out, st, err := m.run(ctx, call{op: op, args: []string{mode, fingerprint}})
	if err != nil {
		return err
	}
	if out.ExitCode == 0 && !st.Has("DELETE_PROBLEM") {
		m.logger.Info("Key deleted.", zap.String("fingerprint", fingerprint), zap.Bool("secret", secret))
		return nil
	}

	problem, _ := st.First("DELETE_PROBLEM")
	diag := strings.ToLower(st.Diagnostics)
	if problem.Arg(0) == "1" || strings.Contains(diag, "not found") || strings.Contains(diag, "no such key") {
		m.logger.Info("Key not present; nothing to delete.", zap.String("fingerprint", fingerprint))
		return nil
	}
	return toolchainError(op, st, fmt.Sprintf("could not delete key %s", fingerprint))
}

// EncryptRequest describes an asymmetric encryption. When SignWith is set
// the message is also signed with that key, unlocked by Passphrase.
type EncryptRequest struct {
	Recipients []string
	Message    []byte
	Armor      bool
	SignWith   string
	Passphrase string
}

// Encrypt encrypts to every recipient. Recipients are trusted as given.
func (m *Manager) Encrypt(ctx context.Context, req EncryptRequest) ([]byte, error) {
	const op = "encrypt"
	var recipients []string
	for _, r := range req.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return nil, invalidInput(op, "recipients list cannot be empty for encryption")
	}
	if len(req.Message) == 0 {
		m.logger.Warn("Encrypting an empty message.")
	}

	args := []string{"--encrypt", "--trust-model", "always"}
	if req.Armor {
		args = append(args, "--armor")
	}
	for _, r := range recipients {
		args = append(args, "--recipient", r)
	}
	c := call{op: op, stdin: req.Message}
	if req.SignWith != "" {
		args = append(args, "--sign", "--local-user", req.SignWith)
		c.passphrase = req.Passphrase
	}
	c.args = args

	out, st, err := m.run(ctx, c)
	if err != nil {
		return nil, err
	}
	if out.ExitCode == 0 && st.Has("END_ENCRYPTION") {
		m.logger.Info("Message encrypted.", zap.Int("recipients", len(recipients)))
		return out.Stdout, nil
	}
	if l, ok := st.First("INV_RECP"); ok {
		return nil, &ManagementError{Op: op, Kind: KindNotFound, Diagnostics: st.Diagnostics, Err: fmt.Errorf("recipient %s: %w", l.Arg(1), ErrKeyNotFound)}
	}
	if badPassphrase(st) {
		return nil, &ManagementError{Op: op, Kind: KindBadPassphrase, Diagnostics: st.Diagnostics, Err: ErrBadPassphrase}
	}
	return nil, toolchainError(op, st, "encryption failed")
}

// EncryptSymmetric encrypts with a passphrase-derived key (AES-256).
func (m *Manager) EncryptSymmetric(ctx context.Context, message []byte, passphrase string, armor bool) ([]byte, error) {
	const op = "encrypt_symmetric"
	if passphrase == "" {
		return nil, invalidInput(op, "passphrase cannot be empty for symmetric encryption")
	}
	args := []string{"--symmetric", "--cipher-algo", "AES256"}
	if armor {
		args = append(args, "--armor")
	}
	out, st, err := m.run(ctx, call{op: op, args: args, stdin: message, passphrase: passphrase})
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 || len(out.Stdout) == 0 {
		return nil, toolchainError(op, st, "symmetric encryption failed")
	}
	m.logger.Info("Message encrypted with passphrase.")
	return out.Stdout, nil
}

// Decrypt decrypts an asymmetric or symmetric message. A missing secret key
// and a wrong passphrase are reported with their own kinds and sentinels.
func (m *Manager) Decrypt(ctx context.Context, ciphertext []byte, passphrase string) ([]byte, error) {
	const op = "decrypt"
	if len(bytes.TrimSpace(ciphertext)) == 0 {
		return nil, invalidInput(op, "encrypted message cannot be empty for decryption")
	}

	out, st, err := m.run(ctx, call{op: op, args: []string{"--decrypt"}, stdin: ciphertext, passphrase: passphrase})
	if err != nil {
		return nil, err
	}
	if st.Has("DECRYPTION_OKAY") || (out.ExitCode == 0 && !st.Has("DECRYPTION_FAILED")) {
		m.logger.Info("Message decrypted.")
		return out.Stdout, nil
	}

	// gpg also reports "No secret key" after a rejected passphrase, so the
	// passphrase check has to come first.
	diag := strings.ToLower(st.Diagnostics)
	switch {
	case badPassphrase(st) || strings.Contains(diag, "bad passphrase"):
		m.logger.Error("Decryption failed: bad passphrase.")
		return nil, &ManagementError{Op: op, Kind: KindBadPassphrase, Diagnostics: st.Diagnostics, Err: ErrBadPassphrase}
	case st.Has("NO_SECKEY") || strings.Contains(diag, "no secret key"):
		m.logger.Error("Decryption failed: no secret key.", zap.String("diagnostics", st.Diagnostics))
		return nil, &ManagementError{Op: op, Kind: KindNoSecretKey, Diagnostics: st.Diagnostics, Err: ErrNoSecretKey}
	}
	m.logger.Error("Decryption failed.", zap.String("diagnostics", st.Diagnostics))
	return nil, toolchainError(op, st, "decryption failed")
}

// SignMode picks the signature layout.
type SignMode int

const (
	// SignDetached produces a separate signature.
	SignDetached SignMode = iota
	// SignClear wraps the message in a cleartext signature.
	SignClear
	// SignInline produces a signed OpenPGP message.
	SignInline
)

// SignRequest describes a signing operation.
type SignRequest struct {
	KeyID      string
	Passphrase string
	Message    []byte
	Mode       SignMode
	Armor      bool
}

// Signature is gpg's signing output and its SIG_CREATED status line.
type Signature struct {
	Data   []byte
	Status string
}

// Sign signs a message with the given key.
func (m *Manager) Sign(ctx context.Context, req SignRequest) (*Signature, error) {
	const op = "sign"
	if strings.TrimSpace(req.KeyID) == "" {
		return nil, invalidInput(op, "signing key cannot be empty")
	}
	args := []string{"--local-user", req.KeyID}
	switch req.Mode {
	case SignClear:
		args = append(args, "--clearsign")
	case SignInline:
		args = append(args, "--sign")
	default:
		args = append(args, "--detach-sign")
	}
	if req.Armor && req.Mode != SignClear {
		args = append(args, "--armor")
	}

	out, st, err := m.run(ctx, call{op: op, args: args, stdin: req.Message, passphrase: req.Passphrase})
	if err != nil {
		return nil, err
	}
	if created, ok := st.First("SIG_CREATED"); ok && out.ExitCode == 0 {
		m.logger.Info("Message signed.", zap.String("key_id", req.KeyID))
		return &Signature{Data: out.Stdout, Status: created.String()}, nil
	}
	if badPassphrase(st) || strings.Contains(strings.ToLower(st.Diagnostics), "bad passphrase") {
		return nil, &ManagementError{Op: op, Kind: KindBadPassphrase, Diagnostics: st.Diagnostics, Err: ErrBadPassphrase}
	}
	return nil, toolchainError(op, st, "signing failed")
}
