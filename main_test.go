package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appkins-org/go-socbuild/internal/socerr"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	root, a := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	require.NoError(t, a.teardown(context.Background()))
	return out.String(), err
}

func TestBoardsCommand(t *testing.T) {
	out, err := execute(t, "boards")
	require.NoError(t, err)
	for _, id := range []string{"mnt_rkx7", "sipeed_tang_primer_20k", "xilinx_vcu37p"} {
		assert.Contains(t, out, id)
	}
}

func TestTargetCommand(t *testing.T) {
	dir := t.TempDir()
	prom := filepath.Join(dir, "socbuild.prom")
	t.Setenv("SOCBUILD_METRICS_TEXTFILE", prom)

	_, err := execute(t, "mnt_rkx7", "--output-dir", dir, "--log-format", "text", "--csr-json", "--with-usb-host")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "mnt_rkx7", "csr.json"))
	assert.FileExists(t, filepath.Join(dir, "mnt_rkx7", "sdram_settings.json"))
	assert.FileExists(t, filepath.Join(dir, "mnt_rkx7", "gateware", "mnt_rkx7.json"))

	data, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(data), `socbuild_builds_total{result="ok",target="mnt_rkx7"} 1`)
}

func TestTargetCommandConflict(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "mnt_rkx7", "--output-dir", dir, "--with-etherbone", "--with-ethernet")
	require.ErrorIs(t, err, socerr.MutuallyExclusiveOptionError)
	assert.NoDirExists(t, filepath.Join(dir, "mnt_rkx7"))
}

func TestGenericNeedsBoard(t *testing.T) {
	_, err := execute(t, "generic", "--output-dir", t.TempDir())
	assert.ErrorIs(t, err, socerr.InvalidOption)
}
