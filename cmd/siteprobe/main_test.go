// File: cmd/siteprobe/main_test.go
package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestHandlePanic(t *testing.T) {
	t.Cleanup(resetMocks)

	t.Run("writes panic log", func(t *testing.T) {
		var written string
		var exitCode = -1
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = string(data)
			return nil
		}
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, 1, exitCode)
		assert.True(t, strings.HasPrefix(written, "panic: boom\n\n"))
		assert.Contains(t, written, "goroutine")
	})

	t.Run("log write fails", func(t *testing.T) {
		var exitCode = -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()
		assert.Equal(t, 1, exitCode)
	})

	t.Run("no panic", func(t *testing.T) {
		osExit = func(int) { t.Fatal("exit must not be called") }
		func() {
			defer handlePanic()
		}()
	})
}

func TestRunInteractive(t *testing.T) {
	t.Run("exit command", func(t *testing.T) {
		var out bytes.Buffer
		err := runInteractive(context.Background(), strings.NewReader("\n  \nexit\nversion\n"), &out)
		require.NoError(t, err)

		text := out.String()
		assert.Contains(t, text, "siteprobe  -  page collection")
		assert.Equal(t, 3, strings.Count(text, "siteprobe > "), "blank lines prompt again, exit stops")
		assert.True(t, strings.HasSuffix(text, "Exiting siteprobe.\n"))
	})

	t.Run("eof", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runInteractive(context.Background(), strings.NewReader(""), &out))
		assert.Contains(t, out.String(), "Exiting siteprobe.")
	})

	t.Run("bad command keeps the shell alive", func(t *testing.T) {
		var out bytes.Buffer
		err := runInteractive(context.Background(), strings.NewReader("no-such-command\nquit\n"), &out)
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(out.String(), "siteprobe > "))
	})
}
