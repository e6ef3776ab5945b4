package keyring

import (
	"strconv"
	"strings"
	"time"
)

// KeyRecord is one primary key as reported by gpg --with-colons.
type KeyRecord struct {
	Fingerprint string     `json:"fingerprint"`
	KeyID       string     `json:"key_id"`
	Algorithm   string     `json:"algorithm"`
	Length      int        `json:"length"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	UserIDs     []string   `json:"user_ids"`
	Secret      bool       `json:"secret"`
}

// algorithmNames maps OpenPGP public key algorithm IDs (RFC 4880 and
// RFC 6637) to names.
var algorithmNames = map[string]string{
	"1":  "RSA",
	"2":  "RSA-E",
	"3":  "RSA-S",
	"16": "ElGamal",
	"17": "DSA",
	"18": "ECDH",
	"19": "ECDSA",
	"22": "EdDSA",
}

// parseColons reads --with-colons listing output. Only primary keys are
// returned; the first fpr record after a pub/sec line is its fingerprint.
func parseColons(out []byte) []KeyRecord {
	records := []KeyRecord{}
	var current *KeyRecord
	wantFpr := false

	flush := func() {
		if current != nil {
			records = append(records, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), ":")
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "pub", "sec":
			flush()
			current = &KeyRecord{
				Secret:    fields[0] == "sec",
				Length:    atoi(field(fields, 2)),
				Algorithm: algorithmName(field(fields, 3)),
				KeyID:     field(fields, 4),
				CreatedAt: epoch(field(fields, 5)),
				UserIDs:   []string{},
			}
			if exp := field(fields, 6); exp != "" {
				t := epoch(exp)
				current.ExpiresAt = &t
			}
			wantFpr = true
		case "fpr":
			if current != nil && wantFpr {
				current.Fingerprint = field(fields, 9)
				wantFpr = false
			}
		case "uid":
			if current != nil {
				current.UserIDs = append(current.UserIDs, unescapeColons(field(fields, 9)))
			}
		case "sub", "ssb":
			wantFpr = false
		}
	}
	flush()
	return records
}

func field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// epoch accepts both seconds since the epoch and ISO 8601 basic format,
// which gpg uses with --fixed-list-mode off on some versions.
func epoch(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC()
	}
	if t, err := time.Parse("20060102T150405", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func algorithmName(id string) string {
	if name, ok := algorithmNames[id]; ok {
		return name
	}
	return id
}

// unescapeColons undoes gpg's C-style \xNN escaping of user IDs.
func unescapeColons(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
