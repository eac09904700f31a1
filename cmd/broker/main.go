// Command broker is the ping/pong/relay reference driver from spec.md's
// CLI surface: it peers with other broker processes over TCP or NATS and
// exercises the overlay's publish/subscribe path end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/tsne/broker"
	"github.com/tsne/broker/internal/config"
	"github.com/tsne/broker/internal/logx"
	"github.com/tsne/broker/internal/recorder"
	natstransport "github.com/tsne/broker/transport/nats"
	"github.com/tsne/broker/transport/tcp"
)

const version = "broker-cli 0.1.0"

const usage = `Broker ping/pong/relay driver.

Usage:
    broker --mode=<mode> --topic=<topic> [--transport=<name>] [--num-pings=<n>] [--peers=<uris>] [--local-port=<port>] [--nats-addr=<addr>] [--config=<path>] [--reconnect-interval=<d>] [--verbose]
    broker -h | --help

Options:
    -h --help                     Show this screen.
    --version                      Show version.
    --mode=<mode>                  One of ping, pong, relay.
    --topic=<topic>                Topic to publish and subscribe on.
    --transport=<name>             One of tcp, nats [default: tcp].
    --num-pings=<n>                Round trips before a ping driver exits [default: 10].
    --peers=<uris>                 Comma-separated peers to reach: tcp://host:port for --transport=tcp, bare peer ids for --transport=nats.
    --local-port=<port>            Port to listen on for inbound peers (--transport=tcp only).
    --nats-addr=<addr>             Comma-separated NATS server addresses (required for --transport=nats).
    --config=<path>                Path to a broker.toml file supplying recording and store settings.
    --reconnect-interval=<d>       Redial a lost dialed peer after d, e.g. "2s" (--transport=tcp only, disabled if unset).
    --verbose                      Enable debug-level logging.
`

func main() {
	os.Exit(run(os.Args[1:]))
}

var docoptParser = &docopt.Parser{HelpHandler: docopt.PrintHelpOnly}

func run(args []string) int {
	opts, err := docoptParser.ParseArgs(usage, args, version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if opts == nil {
		// docopt printed help or version text via the HelpHandler above.
		return 0
	}

	mode, _ := opts.String("--mode")
	switch mode {
	case "ping", "pong", "relay":
	default:
		fmt.Fprintf(os.Stderr, "broker: invalid mode %q (want ping, pong or relay)\n", mode)
		return 1
	}

	topicArg, _ := opts.String("--topic")
	if topicArg == "" {
		fmt.Fprintln(os.Stderr, "broker: --topic is required")
		return 1
	}
	topic := broker.Topic(topicArg)

	if verbose, _ := opts.Bool("--verbose"); verbose {
		os.Setenv("BROKER_DEBUG_VERBOSE", "true")
		broker.SetLogger(logx.New(logx.FromEnv()))
	}

	numPings := 10
	if n, err := opts.Int("--num-pings"); err == nil {
		numPings = n
	}

	var cfg config.Config
	haveConfig := false
	if path, _ := opts.String("--config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "broker:", err)
			return 1
		}
		cfg = loaded
		haveConfig = true
	}

	endpointOpts, err := endpointOptionsFromConfig(cfg, haveConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, "broker:", err)
		return 1
	}

	ep, err := broker.NewEndpoint(broker.NewRandomPeerID(), endpointOpts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "broker:", err)
		return 1
	}

	transportKind, _ := opts.String("--transport")
	switch transportKind {
	case "tcp":
		if err := wireTCPTransport(opts, ep, cfg, haveConfig); err != nil {
			fmt.Fprintln(os.Stderr, "broker:", err)
			return 1
		}
	case "nats":
		closeConn, err := wireNATSTransport(opts, ep, cfg, haveConfig)
		if err != nil {
			fmt.Fprintln(os.Stderr, "broker:", err)
			return 1
		}
		defer closeConn()
	default:
		fmt.Fprintf(os.Stderr, "broker: invalid --transport %q (want tcp or nats)\n", transportKind)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "ping":
		return runPing(ctx, ep, topic, numPings)
	case "pong":
		return runPong(ctx, ep, topic)
	default:
		return runRelay(ctx)
	}
}

// wireTCPTransport builds a tcp.Transport for ep, optionally arming
// delayed reconnect, listening on --local-port (or the config file's
// listen address) and dialing --peers (or the config file's peer
// addresses).
func wireTCPTransport(opts docopt.Opts, ep *broker.Endpoint, cfg config.Config, haveConfig bool) error {
	var tcpOpts []tcp.Option
	if d, _ := opts.String("--reconnect-interval"); d != "" {
		interval, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("--reconnect-interval: %w", err)
		}
		tcpOpts = append(tcpOpts, tcp.WithReconnectInterval(interval))
	}
	tr := tcp.NewTransport(ep, 0, tcpOpts...)

	listenAddr, _ := opts.String("--local-port")
	switch {
	case listenAddr != "":
		listenAddr = ":" + listenAddr
	case haveConfig && cfg.ListenAddress != "":
		listenAddr = cfg.ListenAddress
	}
	if listenAddr != "" {
		if _, err := tr.Listen(listenAddr); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	peersArg, _ := opts.String("--peers")
	switch {
	case peersArg != "":
		return dialTCPPeers(tr, strings.Split(peersArg, ","))
	case haveConfig && len(cfg.PeerAddresses) > 0:
		return dialTCPPeers(tr, cfg.PeerAddresses)
	}
	return nil
}

func dialTCPPeers(tr *tcp.Transport, uris []string) error {
	for _, uri := range uris {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		addr := strings.TrimPrefix(uri, "tcp://")
		if _, err := tr.Dial(addr); err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
	}
	return nil
}

// wireNATSTransport connects to --nats-addr, binds a nats.Transport to
// ep, subscribes its inbox subject and registers every peer named in
// --peers (or the config file's peer list) by id. It returns a close
// func the caller defers to release the connection.
func wireNATSTransport(opts docopt.Opts, ep *broker.Endpoint, cfg config.Config, haveConfig bool) (func(), error) {
	addr, _ := opts.String("--nats-addr")
	if addr == "" {
		return nil, fmt.Errorf("--nats-addr is required for --transport=nats")
	}

	conn, err := natstransport.Connect(addr)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	ntr := natstransport.NewTransport(conn, ep)
	if err := ntr.Listen(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats listen: %w", err)
	}

	peersArg, _ := opts.String("--peers")
	ids := strings.Split(peersArg, ",")
	if peersArg == "" && haveConfig {
		ids = cfg.PeerAddresses
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		ntr.Peer(broker.PeerID(id))
	}

	return func() { ntr.Close() }, nil
}

// endpointOptionsFromConfig turns a loaded broker.toml into the
// broker.Options it feeds: a recorder over the configured recording
// directory/cap, and the first store entry's replication intervals as
// the endpoint's default. Returns no options when no config was
// loaded.
func endpointOptionsFromConfig(cfg config.Config, haveConfig bool) ([]broker.Option, error) {
	if !haveConfig {
		return nil, nil
	}

	var opts []broker.Option
	if cfg.RecordingDirectory != "" {
		if err := cfg.EnsureRecordingDirectory(); err != nil {
			return nil, err
		}
		fileCap := cfg.OutputFileCap
		if fileCap <= 0 {
			fileCap = config.Default().OutputFileCap
		}
		store, err := recorder.Open(cfg.RecordingDirectory, fileCap)
		if err != nil {
			return nil, err
		}
		opts = append(opts, broker.WithRecorder(store))
	}
	if len(cfg.Stores) > 0 {
		s := cfg.Stores[0]
		opts = append(opts, broker.WithStoreIntervals(
			time.Duration(s.ResyncInterval),
			time.Duration(s.StaleInterval),
			time.Duration(s.MutationBufferInterval),
		))
	}
	return opts, nil
}

// runPing publishes "ping" on topic and waits for a "pong" reply,
// repeating numPings times and reporting the observed round-trip time
// for each, per spec.md's S3 scenario.
func runPing(ctx context.Context, ep *broker.Endpoint, topic broker.Topic, numPings int) int {
	pongs := make(chan time.Time, 1)
	ep.Subscribe(topic, func(_ broker.Topic, v broker.Data) {
		if v.Kind() == broker.KindString && v.String() == "pong" {
			select {
			case pongs <- time.Now():
			default:
			}
		}
	})

	for i := 0; i < numPings; i++ {
		sent := time.Now()
		ep.Publish(topic, broker.StringData("ping"))

		select {
		case recv := <-pongs:
			fmt.Printf("ping %d/%d: rtt=%s\n", i+1, numPings, recv.Sub(sent))
		case <-ctx.Done():
			return 0
		case <-time.After(5 * time.Second):
			fmt.Fprintf(os.Stderr, "broker: ping %d/%d timed out\n", i+1, numPings)
			return 1
		}
	}
	return 0
}

// runPong replies "pong" to every "ping" it sees on topic until
// interrupted.
func runPong(ctx context.Context, ep *broker.Endpoint, topic broker.Topic) int {
	ep.Subscribe(topic, func(_ broker.Topic, v broker.Data) {
		if v.Kind() == broker.KindString && v.String() == "ping" {
			ep.Publish(topic, broker.StringData("pong"))
		}
	})
	<-ctx.Done()
	return 0
}

// runRelay holds the endpoint open, forwarding traffic between the
// peers it was dialed to or accepted from, until interrupted.
func runRelay(ctx context.Context) int {
	<-ctx.Done()
	return 0
}
