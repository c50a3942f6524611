// Command hportald drives a host portal against a single UDS endpoint,
// submitting a configurable burst of demo GOPs and reporting pool stats
// and Prometheus metrics while it runs.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lstore/gop-hportal/internal/authsocket"
	"github.com/lstore/gop-hportal/internal/wire"
	"github.com/lstore/gop-hportal/pkg/hportal"
)

var (
	configPath string
	socketPath string
	secretStr  string
	gopCount   int
)

var rootCmd = &cobra.Command{
	Use:     "hportald",
	Short:   "Host portal daemon",
	Long:    `hportald drives an adaptive pool of pipelined connections to a host portal endpoint and reports its pool statistics.`,
	Version: "0.1.0",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to an endpoint and submit a burst of demo GOPs",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: search ./config.yaml, ./config/config.yaml, /etc/hportal/config.yaml)")
	runCmd.Flags().StringVar(&socketPath, "socket", "/tmp/hportal-echo.sock", "unix domain socket of the target endpoint")
	runCmd.Flags().StringVar(&secretStr, "secret", "hportal-demo-secret", "shared secret for the HMAC handshake")
	runCmd.Flags().IntVar(&gopCount, "count", 20, "number of demo GOPs to submit")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := hportal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := hportal.NewLogger(cfg.Logging)
	metrics := hportal.NewMetrics(nil)

	if cfg.Metrics.Enabled {
		go func() {
			if err := hportal.ListenAndServe(cfg.Metrics.Endpoint, cfg.Metrics.Path); err != nil {
				logger.ErrorContext(context.Background(), "metrics server exited", "error", err)
			}
		}()
	}

	secret := authsocket.DeriveSecret(secretStr)

	codec := wire.Default(cfg.Wire.Codec)

	connect := func(_ any, _ string, _ int, dt time.Duration) (net.Conn, error) {
		return authsocket.Dial(socketPath, dt, secret)
	}

	pctx := hportal.NewPortalContext(
		connect,
		func(ns net.Conn) { ns.Close() },
		cfg.Portal.MaxWorkload,
		time.Duration(cfg.Portal.MinIdle)*time.Second,
		cfg.Portal.MaxWait,
		cfg.Portal.CheckConnectionInterval,
	)

	hp := hportal.NewHostPortal(socketPath, 0, nil, pctx, cfg.Portal, logger, metrics)
	defer hp.Shutdown(false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < gopCount; i++ {
		g := demoGOP(uint64(i), codec, cfg.Wire.MaxFrameSize, cfg.Wire.RequestTimeout)
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := g.Wait()
			logger.InfoContext(context.Background(), "gop completed", "gop_id", g.ID, "status", status.String())
		}()
		hp.Submit(g)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.InfoContext(context.Background(), "shutdown requested")
	case <-time.After(30 * time.Second):
		logger.WarnContext(context.Background(), "timed out waiting for demo GOPs to complete")
	}

	stats := hp.Stats()
	metrics.Refresh(stats)
	fmt.Printf("final stats: %+v\n", stats)

	return nil
}

// demoGOP builds a GOP whose send_command/recv_phase round-trip a framed
// wire.Request/wire.Response pair over whatever net.Conn the portal hands
// it. The endpoint must answer each request with a wire.Response carrying
// the same body.
func demoGOP(id uint64, codec wire.Codec, maxFrame int, timeout time.Duration) *hportal.GOP {
	body := []byte(fmt.Sprintf("op-%d", id))
	return hportal.NewGOP(id,
		func(g *hportal.GOP, ns net.Conn) hportal.Status {
			req := &wire.Request{ID: id, Method: "echo", Body: body}
			if err := wire.WriteRequest(wire.NewFramerSize(ns, maxFrame), codec, req); err != nil {
				return hportal.StatusDead
			}
			return hportal.StatusSuccess
		},
		nil,
		func(g *hportal.GOP, ns net.Conn) hportal.Status {
			resp, err := wire.ReadResponse(wire.NewFramerSize(ns, maxFrame))
			if err != nil {
				return hportal.StatusDead
			}
			if resp.Error() != nil || string(resp.Body) != string(body) {
				return hportal.StatusError
			}
			return hportal.StatusSuccess
		},
		1, timeout, 2, 50*time.Millisecond,
	)
}
