package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appkins-org/go-socbuild/internal/image"
)

func TestPayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rv32.dtb")
	require.NoError(t, os.WriteFile(path, []byte("dtb"), 0o644))

	f, err := payload(path)
	require.NoError(t, err)
	assert.Equal(t, "rv32.dtb", f.Name)
	assert.Nil(t, f.Offset)

	f, err = payload(path + "@0xef0000")
	require.NoError(t, err)
	require.NotNil(t, f.Offset)
	assert.Equal(t, uint64(0xef0000), *f.Offset)

	_, err = payload(path + "@nope")
	assert.Error(t, err)
	_, err = payload(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestCommand(t *testing.T) {
	dir := t.TempDir()
	design := filepath.Join(dir, "soc.json")
	require.NoError(t, os.WriteFile(design, []byte(`{"regions":[{"name":"main_ram","origin":1073741824,"size":16777216,"cached":true}]}`), 0o644))
	bin := filepath.Join(dir, "boot.bin")
	require.NoError(t, os.WriteFile(bin, []byte("firmware"), 0o644))
	img := filepath.Join(dir, "sdcard.img")

	cmd := newCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--design", design, "-o", img, bin})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "0x40000000\tboot.bin\n", out.String())

	data, err := image.ReadFile(img, "boot.bin")
	require.NoError(t, err)
	assert.Equal(t, "firmware", string(data))

	cmd = newCommand()
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--design", design, "-o", img, bin})
	assert.Error(t, cmd.Execute(), "existing image is not overwritten")
}
