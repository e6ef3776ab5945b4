package keyring

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// KeyInfo summarizes one entity in a key file.
type KeyInfo struct {
	Fingerprint string   `json:"fingerprint"`
	UserIDs     []string `json:"user_ids"`
	HasPrivate  bool     `json:"has_private"`
}

// InspectKeyData reads armored or binary OpenPGP key material without
// touching the keyring.
func InspectKeyData(data []byte) ([]KeyInfo, error) {
	entities, err := readEntities(data)
	if err != nil {
		return nil, err
	}
	infos := make([]KeyInfo, 0, len(entities))
	for _, e := range entities {
		info := KeyInfo{
			Fingerprint: fingerprint(e),
			HasPrivate:  e.PrivateKey != nil,
			UserIDs:     []string{},
		}
		for name := range e.Identities {
			info.UserIDs = append(info.UserIDs, name)
		}
		sort.Strings(info.UserIDs)
		infos = append(infos, info)
	}
	return infos, nil
}

func readEntities(data []byte) (openpgp.EntityList, error) {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN PGP")) {
		list, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("read armored key data: %w", err)
		}
		return list, nil
	}
	list, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read key data: %w", err)
	}
	return list, nil
}

func fingerprint(e *openpgp.Entity) string {
	if e == nil || e.PrimaryKey == nil {
		return ""
	}
	return strings.ToUpper(hex.EncodeToString(e.PrimaryKey.Fingerprint))
}

// VerifyDetached checks an armored detached signature over message against
// the armored public key. It returns the fingerprint of the signer.
func VerifyDetached(publicKey, message, signature []byte) (string, error) {
	ring, err := readEntities(publicKey)
	if err != nil {
		return "", err
	}
	sig := signature
	if !bytes.HasPrefix(bytes.TrimSpace(signature), []byte("-----BEGIN PGP")) {
		var buf bytes.Buffer
		w, err := armor.Encode(&buf, openpgp.SignatureType, nil)
		if err != nil {
			return "", err
		}
		if _, err := w.Write(signature); err != nil {
			return "", err
		}
		if err := w.Close(); err != nil {
			return "", err
		}
		sig = buf.Bytes()
	}
	signer, err := openpgp.CheckArmoredDetachedSignature(ring, bytes.NewReader(message), bytes.NewReader(sig), nil)
	if err != nil {
		return "", fmt.Errorf("verify signature: %w", err)
	}
	return fingerprint(signer), nil
}
