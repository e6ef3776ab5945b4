package keyring

import (
	"strconv"
	"strings"
)

const statusPrefix = "[GNUPG:] "

// StatusLine is one machine-readable line from gpg's --status-fd stream.
type StatusLine struct {
	Keyword string
	Args    []string
}

// Status splits gpg's stderr into status lines and the remaining
// human-readable diagnostics.
type Status struct {
	Lines       []StatusLine
	Diagnostics string
}

func parseStatus(stderr []byte) Status {
	var st Status
	var diag []string
	for _, line := range strings.Split(string(stderr), "\n") {
		line = strings.TrimRight(line, "\r")
		if rest, ok := strings.CutPrefix(line, statusPrefix); ok {
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				continue
			}
			st.Lines = append(st.Lines, StatusLine{Keyword: fields[0], Args: fields[1:]})
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			diag = append(diag, trimmed)
		}
	}
	st.Diagnostics = strings.Join(diag, "; ")
	return st
}

// Has reports whether any status line carries keyword.
func (s Status) Has(keyword string) bool {
	_, ok := s.First(keyword)
	return ok
}

// First returns the first status line carrying keyword.
func (s Status) First(keyword string) (StatusLine, bool) {
	for _, l := range s.Lines {
		if l.Keyword == keyword {
			return l, true
		}
	}
	return StatusLine{}, false
}

// All returns every status line carrying keyword, in order.
func (s Status) All(keyword string) []StatusLine {
	var out []StatusLine
	for _, l := range s.Lines {
		if l.Keyword == keyword {
			out = append(out, l)
		}
	}
	return out
}

// gpgErrBadPassphrase is GPG_ERR_BAD_PASSPHRASE. ERROR and FAILURE status
// lines carry it combined with an error source in the high bits.
const gpgErrBadPassphrase = 11

// ErrorCode returns the gpg-error code of an ERROR or FAILURE line, without
// its source.
func (l StatusLine) ErrorCode() (int, bool) {
	if l.Keyword != "ERROR" && l.Keyword != "FAILURE" {
		return 0, false
	}
	code, err := strconv.ParseUint(l.Arg(1), 10, 32)
	if err != nil {
		return 0, false
	}
	return int(code & 0xffff), true
}

// badPassphrase reports whether gpg rejected the passphrase. In loopback
// mode gpg 2.2+ prints no BAD_PASSPHRASE line, only an ERROR with the code.
func badPassphrase(s Status) bool {
	for _, l := range s.Lines {
		if l.Keyword == "BAD_PASSPHRASE" {
			return true
		}
		if code, ok := l.ErrorCode(); ok && code == gpgErrBadPassphrase {
			return true
		}
	}
	return false
}

func (l StatusLine) String() string {
	return strings.TrimSpace(l.Keyword + " " + strings.Join(l.Args, " "))
}

// Arg returns the i-th argument or "".
func (l StatusLine) Arg(i int) string {
	if i < len(l.Args) {
		return l.Args[i]
	}
	return ""
}
