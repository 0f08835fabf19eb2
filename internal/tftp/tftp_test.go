package tftp

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/pin/tftp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, root string) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{Logger: logr.Discard(), RootDirectory: root, Timeout: time.Second}
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, conn) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return conn.LocalAddr().String()
}

func client(t *testing.T, addr string) *tftp.Client {
	t.Helper()
	c, err := tftp.NewClient(addr)
	require.NoError(t, err)
	c.SetTimeout(time.Second)
	c.SetRetries(2)
	return c
}

func fetch(t *testing.T, c *tftp.Client, name string) (string, error) {
	t.Helper()
	wt, err := c.Receive(name, "octet")
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func TestHandleRead(t *testing.T) {
	root := t.TempDir()
	mac := "02:00:00:00:00:01"
	require.NoError(t, os.WriteFile(filepath.Join(root, "boot.json"), []byte(`{"boot.bin":"0x40000000"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "boot.bin"), bytes.Repeat([]byte{0x13}, 3000), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, mac), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, mac, "boot.json"), []byte(`{"own":"0x0"}`), 0o644))

	c := client(t, serve(t, root))

	tests := []struct {
		name string
		file string
		want string
	}{
		{"root file", "boot.json", `{"boot.bin":"0x40000000"}`},
		{"multi block", "boot.bin", strings.Repeat("\x13", 3000)},
		{"board file", mac + "/boot.json", `{"own":"0x0"}`},
		{"board fallback", mac + "/boot.bin", strings.Repeat("\x13", 3000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fetch(t, c, tt.file)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleReadRejects(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret"), []byte("x"), 0o644))

	c := client(t, serve(t, root))
	for _, name := range []string{"missing.bin", "../secret", "sub", "zz:not:a:mac/boot.bin"} {
		t.Run(name, func(t *testing.T) {
			_, err := fetch(t, c, name)
			assert.Error(t, err)
		})
	}
}

func TestHandleWrite(t *testing.T) {
	root := t.TempDir()
	c := client(t, serve(t, root))

	rf, err := c.Send("upload.bin", "octet")
	if err == nil {
		_, err = rf.ReadFrom(strings.NewReader("payload"))
	}
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(root, "upload.bin"))
}

func TestServeMissingRoot(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &Server{Logger: logr.Discard(), RootDirectory: filepath.Join(t.TempDir(), "absent")}
	assert.ErrorIs(t, s.Serve(context.Background(), conn), os.ErrNotExist)
}
