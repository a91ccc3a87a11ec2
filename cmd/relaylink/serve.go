package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/relaylink/relaylink/bridge"
	"github.com/relaylink/relaylink/datarecording"
	"github.com/relaylink/relaylink/monitoring"
	"github.com/relaylink/relaylink/transport/mem"
	"github.com/relaylink/relaylink/transport/tcp"
	"github.com/relaylink/relaylink/transport/ws"
)

var serveFlags struct {
	primary        string
	secondary      string
	requestTimeout time.Duration
	tickInterval   time.Duration
	trace          string
	monitorPort    int
	openDashboard  bool
	verbose        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bridge the primary and secondary endpoints",
	Long: `Serve wires the two endpoints to the transaction router and runs
until interrupted. Endpoint specs:

	tcp-listen://host:port   accept one framed TCP peer
	tcp-dial://host:port     connect to a framed TCP peer
	ws-listen://host:port    accept one WebSocket peer
	ws-dial://host:port      connect to a WebSocket server
	mem:echo                 in-memory peer echoing every request
	mem:sink                 in-memory peer that swallows traffic

Flag defaults can be overridden through RELAYLINK_PRIMARY and
RELAYLINK_SECONDARY, loaded from the environment or a .env file.`,
	RunE: runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&serveFlags.primary, "primary",
		"tcp-listen://127.0.0.1:7070", "primary endpoint spec")
	flags.StringVar(&serveFlags.secondary, "secondary",
		"mem:echo", "secondary endpoint spec")
	flags.DurationVar(&serveFlags.requestTimeout, "request-timeout",
		0, "abandon a pending request after this long (0 disables)")
	flags.DurationVar(&serveFlags.tickInterval, "tick-interval",
		100*time.Millisecond, "how often stalled requests are swept")
	flags.StringVar(&serveFlags.trace, "trace",
		"", "record routing decisions into this SQLite database")
	flags.IntVar(&serveFlags.monitorPort, "monitor-port",
		0, "serve monitoring on this port (0 picks a random port)")
	flags.BoolVar(&serveFlags.openDashboard, "open",
		false, "open the monitoring status page in a browser")
	flags.BoolVar(&serveFlags.verbose, "verbose",
		false, "log every routing decision")
}

func runServe(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	applyEnvOverrides(cmd)

	router := bridge.MakeRouterBuilder().
		WithRequestTimeout(serveFlags.requestTimeout).
		Build("Router")

	if serveFlags.verbose {
		logger := log.New(os.Stderr, "relaylink ", log.LstdFlags)
		router.AcceptHook(bridge.NewTrafficLogger(logger))
	}

	if serveFlags.trace != "" {
		recorder := datarecording.New(serveFlags.trace)
		router.AcceptHook(
			datarecording.NewTransactionTracer(recorder, "traffic"))
	}

	primary, err := buildEndpoint(
		bridge.PortPrimary, "Primary", serveFlags.primary)
	if err != nil {
		return err
	}
	defer closeEndpoint(primary)

	secondary, err := buildEndpoint(
		bridge.PortSecondary, "Secondary", serveFlags.secondary)
	if err != nil {
		return err
	}
	defer closeEndpoint(secondary)

	router.PlugIn(primary)
	router.PlugIn(secondary)

	monitor := monitoring.NewMonitor()
	monitor.RegisterRouter(router)
	monitor.RegisterPort(primary)
	monitor.RegisterPort(secondary)
	url := monitor.StartServer()

	if serveFlags.openDashboard {
		if err := browser.OpenURL(url + "/api/status"); err != nil {
			log.Printf("cannot open dashboard: %v", err)
		}
	}

	stopTicker := startDeadlineSweep(router)
	defer stopTicker()

	log.Printf("relaying between %s and %s",
		serveFlags.primary, serveFlags.secondary)

	waitForInterrupt()

	return nil
}

func applyEnvOverrides(cmd *cobra.Command) {
	if v := os.Getenv("RELAYLINK_PRIMARY"); v != "" &&
		!cmd.Flags().Changed("primary") {
		serveFlags.primary = v
	}

	if v := os.Getenv("RELAYLINK_SECONDARY"); v != "" &&
		!cmd.Flags().Changed("secondary") {
		serveFlags.secondary = v
	}
}

func buildEndpoint(
	id bridge.PortID,
	name, spec string,
) (bridge.Port, error) {
	switch {
	case strings.HasPrefix(spec, "tcp-listen://"):
		return tcp.Listen(id, name,
			strings.TrimPrefix(spec, "tcp-listen://"))
	case strings.HasPrefix(spec, "tcp-dial://"):
		return tcp.Dial(id, name,
			strings.TrimPrefix(spec, "tcp-dial://"))
	case strings.HasPrefix(spec, "ws-listen://"):
		return ws.Listen(id, name,
			strings.TrimPrefix(spec, "ws-listen://"))
	case strings.HasPrefix(spec, "ws-dial://"):
		return ws.Dial(id, name,
			"ws://"+strings.TrimPrefix(spec, "ws-dial://"))
	case spec == "mem:echo":
		ep := mem.New(id, name)
		ep.SetResponder(func(data []byte) []byte { return data })
		return ep, nil
	case spec == "mem:sink":
		return mem.New(id, name), nil
	default:
		return nil, fmt.Errorf("unknown endpoint spec %q", spec)
	}
}

func closeEndpoint(p bridge.Port) {
	if closer, ok := p.(io.Closer); ok {
		_ = closer.Close()
	}
}

func startDeadlineSweep(router *bridge.Router) func() {
	if serveFlags.requestTimeout == 0 {
		return func() {}
	}

	ticker := time.NewTicker(serveFlags.tickInterval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				router.Tick(now)
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

func waitForInterrupt() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals
	log.Println("shutting down")
}
