// Command mtaserv is the SMTP-receiving MTA server: it loads a TOML
// configuration document, wires the queue manager, policy engine, TLS
// certificate table, and delivery transports into a supervisor, and runs
// until interrupted.
//
// Grounded on foxcpp-maddy's cmd/maddy main.go ("run" as the primary
// subcommand, urfave/cli/v2 for argument parsing) simplified to this
// core's single-binary scope (no module registry, no IMAP/Maddyfile
// directive parser).
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mtaserv/mtaserv/internal/config"
	"github.com/mtaserv/mtaserv/internal/logging"
	"github.com/mtaserv/mtaserv/internal/policy"
	"github.com/mtaserv/mtaserv/internal/policy/luapolicy"
	"github.com/mtaserv/mtaserv/internal/queue"
	"github.com/mtaserv/mtaserv/internal/resolver"
	"github.com/mtaserv/mtaserv/internal/supervisor"
	"github.com/mtaserv/mtaserv/internal/tlsupgrade"
	"github.com/mtaserv/mtaserv/internal/transport"
)

func main() {
	app := &cli.App{
		Name:  "mtaserv",
		Usage: "staged-pipeline SMTP mail transfer agent",
		Commands: []*cli.Command{
			runCommand(),
		},
	}
	// Backward-compatible default: ./mtaserv with no subcommand runs the
	// server, same shortcut maddy's cmd/maddy keeps for "./maddy".
	app.Action = runCommand().Action

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the SMTP server",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    "config",
				Usage:   "path to the TOML configuration file",
				EnvVars: []string{"MTASERV_CONFIG"},
				Value:   "/etc/mtaserv/mtaserv.toml",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c.Path("config"))
		},
	}
}

func run(configPath string) error {
	log := logging.New("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	qm := queue.New(cfg.QueueRoot)

	eng, err := buildPolicy(cfg)
	if err != nil {
		return fmt.Errorf("build policy engine: %w", err)
	}

	tlsTable, err := buildTLSTable(cfg)
	if err != nil {
		log.Msg("TLS disabled", "reason", err.Error())
	}

	dispatcher := buildDispatcher(cfg, log)

	sv := supervisor.New(cfg, qm, eng, tlsTable, dispatcher)
	if len(cfg.SASL.Mechanisms) > 0 {
		sv.Authenticator = supervisor.NewPolicyAuthenticator(eng, nil)
		sv.CramLookup = func(username string) (string, bool, error) { return "", false, nil }
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sv.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	metricsSrv := sv.StartMetricsServer()

	log.Msg("mtaserv started", "hostname", cfg.Hostname, "queue_root", cfg.QueueRoot)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Msg("shutting down")
	cancel()
	if metricsSrv != nil {
		metricsSrv.Close()
	}
	sv.Stop()
	return nil
}

func buildPolicy(cfg config.Config) (policy.Engine, error) {
	if cfg.Policy.ScriptPath == "" {
		return policy.NoPolicy{}, nil
	}
	return luapolicy.NewFromFile(cfg.Policy.ScriptPath)
}

func buildTLSTable(cfg config.Config) (*tlsupgrade.Table, error) {
	if len(cfg.TLS.Certs) == 0 {
		return nil, fmt.Errorf("no certificates configured")
	}
	certs := make([]tls.Certificate, 0, len(cfg.TLS.Certs))
	for _, c := range cfg.TLS.Certs {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load certificate %s: %w", c.CertFile, err)
		}
		certs = append(certs, cert)
	}
	return tlsupgrade.NewTable(certs, nil)
}

func buildDispatcher(cfg config.Config, log logging.Logger) transport.Dispatcher {
	res := resolver.New(cfg.Transports.Remote.Nameserver, config.Duration(cfg.Transports.Remote.DNSTimeout, 0))

	remoteCfg := transport.RemoteConfig{
		Hostname:    cfg.Hostname,
		Resolver:    res,
		DialTimeout: config.Duration(cfg.Transports.Remote.DialTimeout, 0),
		Log:         log.With("transport", "remote"),
	}

	return transport.Dispatcher{
		Deliver: transport.Remote{Config: remoteCfg},
		Mbox: transport.Mbox{Config: transport.MboxConfig{
			Dir:   cfg.Transports.Mbox.Dir,
			Group: cfg.Transports.Mbox.Group,
		}},
		Maildir: transport.Maildir{Config: transport.MaildirConfig{
			Group: cfg.Transports.Maildir.Group,
		}},
		None: transport.None{},
		NewForward: func(target string) transport.Transport {
			fwdCfg := remoteCfg
			fwdCfg.Log = log.With("transport", "forward", "target", target)
			return transport.Forward{Config: fwdCfg}
		},
	}
}
