// Command warmtls is a pooling TLS wrapper: it accepts plaintext TCP
// clients on a local bind address and relays each one onto a pre-warmed
// TLS connection to a fixed upstream host:port, eliminating the TLS
// handshake from the client's critical path.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warmtls/warmtls/internal/dialer"
	"github.com/warmtls/warmtls/internal/logging"
	"github.com/warmtls/warmtls/internal/pool"
	"github.com/warmtls/warmtls/internal/readiness"
	"github.com/warmtls/warmtls/internal/relay"
	"github.com/warmtls/warmtls/internal/tlsconfig"
)

type flags struct {
	bindAddress string
	bindPort    int

	poolSize int
	backoff  float64
	ttl      float64
	timeout  float64

	cert            string
	key             string
	cafile          string
	noHostnameCheck bool

	verbosity string
	logfile   string
}

func checkPort(name string, v int) error {
	if v <= 0 || v > 65535 {
		return fmt.Errorf("%s: %d is not a valid port number", name, v)
	}
	return nil
}

func checkPositiveFloat(name string, v float64) error {
	if v <= 0 {
		return fmt.Errorf("%s: %v is not a valid value", name, v)
	}
	return nil
}

func checkPositiveInt(name string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%s: %v is not a valid value", name, v)
	}
	return nil
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "warmtls dst_address dst_port",
		Short: "Pooling TLS wrapper",
		Long: `warmtls accepts plaintext TCP connections on a local bind address
and relays each one onto a pre-warmed TLS connection to dst_address:dst_port,
drawn from a continuously replenished connection pool.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dstAddress := args[0]
			dstPort, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("dst_port: %w", err)
			}
			if err := checkPort("dst_port", dstPort); err != nil {
				return err
			}
			if err := checkPort("bind-port", f.bindPort); err != nil {
				return err
			}
			if err := checkPositiveInt("pool-size", f.poolSize); err != nil {
				return err
			}
			if err := checkPositiveFloat("backoff", f.backoff); err != nil {
				return err
			}
			if err := checkPositiveFloat("ttl", f.ttl); err != nil {
				return err
			}
			if err := checkPositiveFloat("timeout", f.timeout); err != nil {
				return err
			}
			return run(dstAddress, dstPort, f)
		},
	}

	flagSet := cmd.Flags()
	flagSet.StringVarP(&f.bindAddress, "bind-address", "a", "127.0.0.1", "bind address")
	flagSet.IntVarP(&f.bindPort, "bind-port", "p", 57800, "bind port")

	flagSet.IntVarP(&f.poolSize, "pool-size", "n", 25, "connection pool size")
	flagSet.Float64VarP(&f.backoff, "backoff", "B", 5, "delay after connection attempt failure in seconds")
	flagSet.Float64VarP(&f.ttl, "ttl", "T", 30, "lifetime of idle pool connection in seconds")

	flagSet.Float64VarP(&f.timeout, "timeout", "w", 4, "server connect timeout")

	flagSet.StringVarP(&f.cert, "cert", "c", "", "use certificate for client TLS auth")
	flagSet.StringVarP(&f.key, "key", "k", "", "key for TLS certificate")
	flagSet.StringVarP(&f.cafile, "cafile", "C", "", "override default CA certs by set specified in file")
	flagSet.BoolVar(&f.noHostnameCheck, "no-hostname-check", false,
		"do not check hostname in cert subject. Available only together with --cafile")

	flagSet.StringVarP(&f.verbosity, "verbosity", "v", "info", "logging verbosity")
	flagSet.StringVarP(&f.logfile, "logfile", "l", "", "log file path (default stderr)")

	return cmd
}

func run(dstAddress string, dstPort int, f *flags) error {
	level, err := logging.ParseLevel(f.verbosity)
	if err != nil {
		return fmt.Errorf("verbosity: %w", err)
	}

	out, err := logOutput(f.logfile)
	if err != nil {
		return err
	}

	mainLog := logging.New("MAIN", level, out)
	poolLog := logging.New("ConnPool", level, out)
	listenerLog := logging.New("Listener", level, out)

	mainLog.Info("starting...")

	tlsCfg, err := tlsconfig.Build(tlsconfig.Options{
		ServerName:       dstAddress,
		CAFile:           f.cafile,
		CertFile:         f.cert,
		KeyFile:          f.key,
		DisableHostCheck: f.noHostnameCheck,
	})
	if err != nil {
		if err == tlsconfig.ErrHostCheckRequiresCAFile {
			mainLog.Error("CAfile option is required when hostname check is disabled. Terminating program.")
			os.Exit(2)
		}
		return err
	}

	d := dialer.New(dstAddress, dstPort, tlsCfg)

	p, err := pool.New(d, pool.Config{
		DialTimeout: durationFromSeconds(f.timeout),
		Backoff:     durationFromSeconds(f.backoff),
		TTL:         durationFromSeconds(f.ttl),
		Size:        f.poolSize,
	}, poolLog)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		return err
	}

	listenAddr := fmt.Sprintf("%s:%d", f.bindAddress, f.bindPort)
	listener := relay.New(listenAddr, p, listenerLog)
	if err := listener.Start(ctx); err != nil {
		return err
	}

	mainLog.Info("server started.")
	if err := readiness.Ready(); err != nil {
		mainLog.Debugf("readiness notification failed (not running under systemd?): %v", err)
	}

	waitForShutdown(mainLog)

	mainLog.Debug("eventloop interrupted. shutting down server...")
	if err := readiness.Stopping(); err != nil {
		mainLog.Debugf("stopping notification failed: %v", err)
	}

	_ = listener.Stop(context.Background())
	cancel()

	mainLog.Info("server finished its work")
	return nil
}

// waitForShutdown blocks until SIGINT/SIGTERM arrives. A second signal
// terminates the process immediately with exit code 1.
func waitForShutdown(logger *logrus.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Warn("got first exit signal! terminating gracefully.")

	go func() {
		<-sigCh
		logger.Warn("got second exit signal! terminating hard.")
		os.Exit(1)
	}()
}

func logOutput(path string) (*os.File, error) {
	if path == "" {
		return os.Stderr, nil
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
