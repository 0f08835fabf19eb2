// Package tftp serves build software (boot.json, boot.bin, firmware images)
// to SoCs that netboot from their BIOS over Ethernet.
package tftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/netip"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pin/tftp/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/appkins-org/go-socbuild/internal/tftp"

// Server serves the files below RootDirectory read-only.
type Server struct {
	Logger        logr.Logger
	RootDirectory string
	Timeout       time.Duration
}

// Handler resolves TFTP requests against a root directory.
type Handler struct {
	ctx           context.Context
	RootDirectory string
	Log           logr.Logger
}

// ListenAndServe sets up the listener on the given address and serves TFTP
// requests until ctx is done.
func (r *Server) ListenAndServe(ctx context.Context, addr netip.AddrPort) error {
	a, err := net.ResolveUDPAddr("udp", addr.String())
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", a)
	if err != nil {
		return err
	}
	r.Logger.Info("serving tftp", "address", conn.LocalAddr().String(), "root", r.RootDirectory)
	return r.Serve(ctx, conn)
}

// Serve serves TFTP requests on conn until ctx is done.
func (r *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	if _, err := os.Stat(r.RootDirectory); err != nil {
		conn.Close()
		return fmt.Errorf("tftp root %s: %w", r.RootDirectory, err)
	}
	h := &Handler{ctx: ctx, RootDirectory: r.RootDirectory, Log: r.Logger}
	s := tftp.NewServer(h.HandleRead, h.HandleWrite)
	if r.Timeout > 0 {
		s.SetTimeout(r.Timeout)
	}

	go func() {
		<-ctx.Done()
		r.Logger.Info("shutting down tftp server")
		s.Shutdown()
	}()
	return s.Serve(conn)
}

// HandleRead handles TFTP GET requests. A request below a MAC address
// directory (aa:bb:cc:dd:ee:ff/boot.bin) falls back to the same file at the
// root when the board has no file of its own.
func (h *Handler) HandleRead(filename string, rf io.ReaderFrom) (err error) {
	_, span := otel.Tracer(tracerName).Start(h.ctx, "tftp.HandleRead")
	span.SetAttributes(attribute.String("tftp.filename", filename))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := h.Log.WithValues("filename", filename)
	if t, ok := rf.(tftp.OutgoingTransfer); ok {
		addr := t.RemoteAddr()
		log = log.WithValues("client", addr.String())
	}

	root, err := os.OpenRoot(h.RootDirectory)
	if err != nil {
		log.Error(err, "opening root directory failed", "rootDirectory", h.RootDirectory)
		return fmt.Errorf("opening root directory %s: %w", h.RootDirectory, err)
	}
	defer root.Close()

	name, err := h.resolve(root, filename)
	if err != nil {
		log.Info("file not found")
		return err
	}
	file, err := root.Open(name)
	if err != nil {
		log.Error(err, "file open failed")
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer file.Close()

	if t, ok := rf.(tftp.OutgoingTransfer); ok {
		if fi, err := file.Stat(); err == nil {
			t.SetSize(fi.Size())
		}
	}
	n, err := rf.ReadFrom(file)
	if err != nil {
		log.Error(err, "file serve failed")
		return fmt.Errorf("reading %s: %w", name, err)
	}
	log.Info("file served", "path", name, "bytesSent", n)
	return nil
}

// resolve maps a request onto a regular file below root.
func (h *Handler) resolve(root *os.Root, filename string) (string, error) {
	name := path.Clean(strings.TrimPrefix(filename, "/"))
	candidates := []string{name}
	if dir, rest, ok := strings.Cut(name, "/"); ok {
		if _, err := net.ParseMAC(dir); err == nil {
			candidates = append(candidates, rest)
		}
	}
	for _, c := range candidates {
		fi, err := root.Stat(c)
		if err == nil && fi.Mode().IsRegular() {
			return c, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("checking %s: %w", c, err)
		}
	}
	return "", fmt.Errorf("%s: %w", filename, fs.ErrNotExist)
}

// HandleWrite handles TFTP PUT requests. The server is read-only, so it
// always returns an error.
func (h *Handler) HandleWrite(filename string, wt io.WriterTo) error {
	err := fmt.Errorf("access_violation: %w", os.ErrPermission)
	client := net.UDPAddr{}
	if t, ok := wt.(tftp.IncomingTransfer); ok {
		client = t.RemoteAddr()
	}
	h.Log.Error(err, "write rejected", "client", client.String(), "filename", filename)
	return err
}
