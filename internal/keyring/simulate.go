package keyring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Target names the system a simulation pretends to authenticate against.
// Nothing is ever sent to it.
type Target struct {
	Type string
	Host string
}

// SimulationResult reports the outcome of SimulateAuthentication.
type SimulationResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Details         string `json:"details"`
	Challenge       string `json:"simulated_challenge,omitempty"`
	SignatureStatus string `json:"simulated_signature_status,omitempty"`
	Signature       string `json:"signature,omitempty"`
	Verified        bool   `json:"verified"`
}

// SimulateAuthentication is an educational demonstration of proof of
// possession. It is not an authentication protocol: it signs a locally made
// up challenge with the key and checks the signature against the key's own
// public half. No network traffic is produced. Use it only with keys and
// systems you own.
//
// A key that is not in the secret keyring yields an unsuccessful result,
// not an error. A signing failure is a *ManagementError.
func (m *Manager) SimulateAuthentication(ctx context.Context, fingerprint, passphrase string, target Target) (*SimulationResult, error) {
	const op = "simulate_authentication"
	m.logger.Warn("PGP authentication simulation: educational use only, no real authentication is performed.")

	if strings.TrimSpace(fingerprint) == "" {
		return nil, invalidInput(op, "fingerprint cannot be empty")
	}

	keys, err := m.ListKeys(ctx, true)
	if err != nil {
		return nil, err
	}
	found := false
	for _, k := range keys {
		if strings.EqualFold(k.Fingerprint, fingerprint) {
			found = true
			break
		}
	}
	if !found {
		msg := fmt.Sprintf("Private key with fingerprint %s not found in keyring for simulation.", fingerprint)
		m.logger.Error(msg)
		return &SimulationResult{Success: false, Message: msg, Details: "Key not found."}, nil
	}

	host := target.Host
	if host == "" {
		host = "target"
	}
	kind := target.Type
	if kind == "" {
		kind = "unknown"
	}
	challenge := fmt.Sprintf("simulated_challenge_from_%s_%d", host, m.now().Unix())
	m.logger.Info("Simulating authentication.", zap.String("type", kind), zap.String("host", host), zap.String("fingerprint", fingerprint))

	sig, err := m.Sign(ctx, SignRequest{
		KeyID:      fingerprint,
		Passphrase: passphrase,
		Message:    []byte(challenge),
		Mode:       SignDetached,
		Armor:      true,
	})
	if err != nil {
		var me *ManagementError
		if errors.As(err, &me) {
			return nil, &ManagementError{Op: op, Kind: me.Kind, Diagnostics: me.Diagnostics, Err: fmt.Errorf("signing simulated challenge: %w", me.Err)}
		}
		return nil, err
	}

	result := &SimulationResult{
		Success:         true,
		Message:         "PGP authentication simulation: key accessed and challenge signed (simulated).",
		Details:         "Conceptual step only. Real authentication needs a target system and protocol that accept PGP signatures, such as an SSH agent or a signed web challenge.",
		Challenge:       challenge,
		SignatureStatus: sig.Status,
		Signature:       string(sig.Data),
	}

	pub, err := m.ExportKey(ctx, ExportRequest{KeyID: fingerprint, Armor: true})
	if err != nil {
		m.logger.Debug("Could not export public key for verification.", zap.Error(err))
		return result, nil
	}
	signer, err := VerifyDetached(pub, []byte(challenge), sig.Data)
	if err != nil {
		m.logger.Warn("Simulated signature did not verify.", zap.Error(err))
		return result, nil
	}
	result.Verified = strings.EqualFold(signer, fingerprint)
	return result, nil
}
