package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
)

// Transport selects how the server is exposed.
type Transport string

const (
	TransportHTTP  Transport = "http"
	TransportStdio Transport = "stdio"
)

// Runner starts the MCP server.
type Runner struct {
	Service *Service
	Name    string
	Version string
	Logger  *slog.Logger

	Transport        Transport
	HTTPListenAddr   string
	HTTPEndpointPath string
	OnHTTPListening  func(net.Addr)
}

// NewServer builds the MCP server with the grid tools registered.
func NewServer(svc *Service, name, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		fmt.Sprintf("%s MCP", name),
		version,
		server.WithToolCapabilities(false),
		server.WithInstructions("Page through a grouped, virtualized grid; toggle groups and regroup by column."),
		server.WithRecovery(),
	)
	registerTools(srv, svc)
	return srv
}

// Do runs until the transport ends or ctx is cancelled.
func (r Runner) Do(ctx context.Context) error {
	if r.Service == nil {
		return errors.New("mcp runner requires a service")
	}
	name := r.Name
	if name == "" {
		name = "vgrid"
	}
	version := r.Version
	if version == "" {
		version = "dev"
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := NewServer(r.Service, name, version)

	switch t := r.Transport; t {
	case "", TransportStdio:
		logger.Info("serving MCP", "transport", "stdio")
		return server.ServeStdio(srv)
	case TransportHTTP:
		return r.serveHTTP(ctx, srv, logger)
	default:
		return fmt.Errorf("unknown MCP transport %q", t)
	}
}

func (r Runner) serveHTTP(ctx context.Context, srv *server.MCPServer, logger *slog.Logger) error {
	path := r.HTTPEndpointPath
	if path == "" {
		path = "/mcp"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	addr := r.HTTPListenAddr
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	mux := http.NewServeMux()
	mux.Handle(path, server.NewStreamableHTTPServer(srv))
	httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info("serving MCP", "transport", "http", "addr", ln.Addr().String(), "path", path)
	if r.OnHTTPListening != nil {
		r.OnHTTPListening(ln.Addr())
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
