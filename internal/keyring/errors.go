package keyring

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a ManagementError.
type ErrorKind string

const (
	KindInvalidInput  ErrorKind = "invalid_input"
	KindToolchain     ErrorKind = "toolchain"
	KindNoSecretKey   ErrorKind = "no_secret_key"
	KindBadPassphrase ErrorKind = "bad_passphrase"
	KindNotFound      ErrorKind = "not_found"
	KindIO            ErrorKind = "io"
)

var (
	// ErrNoSecretKey means none of the message's recipients has a secret key
	// in the keyring.
	ErrNoSecretKey = errors.New("no secret key available for any recipient")
	// ErrBadPassphrase means the passphrase did not unlock the key.
	ErrBadPassphrase = errors.New("bad passphrase")
	// ErrKeyNotFound means the key is not in the keyring.
	ErrKeyNotFound = errors.New("key not found")
)

// ManagementError is returned by every keyring operation. Diagnostics holds
// gpg's own stderr output, minus status lines, when there is any.
type ManagementError struct {
	Op          string
	Kind        ErrorKind
	Diagnostics string
	Err         error
}

func (e *ManagementError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "keyring %s: %v", e.Op, e.Err)
	if e.Diagnostics != "" {
		fmt.Fprintf(&b, " (gpg: %s)", e.Diagnostics)
	}
	return b.String()
}

func (e *ManagementError) Unwrap() error { return e.Err }

func invalidInput(op, msg string) *ManagementError {
	return &ManagementError{Op: op, Kind: KindInvalidInput, Err: errors.New(msg)}
}

// IsKind reports whether err is a ManagementError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var me *ManagementError
	return errors.As(err, &me) && me.Kind == kind
}
