// Package supervisor implements the runtime supervisor (spec.md §4.13,
// §5): it binds the configured listeners, spawns the three fixed-size
// worker pools (receive, working, delivery), and wires the channels
// carrying message-id hints between them. The filesystem queue remains
// authoritative (spec.md §9) — the channels here are only ever rebuilt
// from a directory listing at startup, never persisted themselves.
//
// Grounded on foxcpp-maddy's cmd/maddy + internal/target/queue wiring: a
// bounded worker-pool-per-stage shape reading from a buffered Go channel,
// with a directory scan at start-up to pick up work a crashed process
// left behind.
package supervisor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtaserv/mtaserv/internal/config"
	"github.com/mtaserv/mtaserv/internal/delivery"
	"github.com/mtaserv/mtaserv/internal/logging"
	"github.com/mtaserv/mtaserv/internal/metrics"
	"github.com/mtaserv/mtaserv/internal/policy"
	"github.com/mtaserv/mtaserv/internal/queue"
	"github.com/mtaserv/mtaserv/internal/reply"
	"github.com/mtaserv/mtaserv/internal/smtpsession"
	"github.com/mtaserv/mtaserv/internal/tlsupgrade"
	"github.com/mtaserv/mtaserv/internal/transport"
	"github.com/mtaserv/mtaserv/internal/working"
)

// Pools sizes the three worker pools spec.md §5 names.
type Pools struct {
	Receive  int
	Working  int
	Delivery int
}

// DefaultPools gives every pool a modest fixed size, generous enough for
// a single-box standalone install.
func DefaultPools() Pools {
	return Pools{Receive: 256, Working: 8, Delivery: 8}
}

// Supervisor owns every long-lived collaborator and the two inter-stage
// channels (working, delivery); it has no knowledge of protocol or queue
// internals beyond what it must to wire them together.
type Supervisor struct {
	Cfg config.Config

	Queue      *queue.Manager
	Policy     policy.Engine
	TLSTable   *tlsupgrade.Table
	Dispatcher transport.Dispatcher

	Pools Pools

	// Authenticator verifies AUTH PLAIN/LOGIN credentials; CramLookup
	// resolves a username to its shared secret for CRAM-MD5. Both may be
	// nil, in which case AUTH is never offered.
	Authenticator AuthFunc
	CramLookup    CramLookupFunc

	Log logging.Logger

	workingStage  working.Stage
	deliveryStage delivery.Stage

	workingCh  chan string
	deliveryCh chan string

	listeners []net.Listener
	connCount int32
	maxConns  int32

	wg sync.WaitGroup
}

// AuthFunc verifies a plaintext username/password pair.
type AuthFunc func(username, password string) error

// CramLookupFunc resolves username to its CRAM-MD5 shared secret.
type CramLookupFunc func(username string) (secret string, ok bool, err error)

// New builds a Supervisor from its collaborators. Start binds listeners
// and spawns the worker pools; it does nothing itself.
func New(cfg config.Config, qm *queue.Manager, eng policy.Engine, tlsTable *tlsupgrade.Table, dispatcher transport.Dispatcher) *Supervisor {
	pools := DefaultPools()

	sv := &Supervisor{
		Cfg:        cfg,
		Queue:      qm,
		Policy:     eng,
		TLSTable:   tlsTable,
		Dispatcher: dispatcher,
		Pools:      pools,
		Log:        logging.New("supervisor"),
		workingCh:  make(chan string, 1024),
		deliveryCh: make(chan string, 1024),
		maxConns:   1024,
	}

	sv.workingStage = working.Stage{
		Queue:           qm,
		Policy:          eng,
		Log:             logging.New("working"),
		Hostname:        cfg.Hostname,
		MaxReceivedHops: cfg.Limits.MaxReceivedHops,
	}
	if cfg.Limits.MaxConnections > 0 {
		sv.maxConns = int32(cfg.Limits.MaxConnections)
	}
	sv.deliveryStage = delivery.Stage{
		Queue:      qm,
		Dispatcher: dispatcher,
		Policy:     eng,
		Backoff: delivery.BackoffConfig{
			Initial:  config.Duration(cfg.Backoff.Initial, 5*time.Minute),
			Scale:    cfg.Backoff.Scale,
			MaxTries: cfg.Backoff.MaxTries,
		},
		Log: logging.New("delivery"),
	}
	return sv
}

// SetMaxConnections overrides the default live-connection cap spec.md §5
// names ("Connection cap").
func (sv *Supervisor) SetMaxConnections(n int) {
	if n > 0 {
		sv.maxConns = int32(n)
	}
}

// Start binds every configured listener, reconciles the on-disk queues
// into the working/delivery channels, arms the deferred-retry scheduler,
// and spawns the working and delivery pools. It returns once every
// listener is bound; Serve (called per-listener internally) runs in
// background goroutines tracked by sv.wg.
func (sv *Supervisor) Start(ctx context.Context) error {
	if err := sv.deliveryStage.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: start delivery scheduler: %w", err)
	}

	for i := 0; i < sv.Pools.Working; i++ {
		sv.wg.Add(1)
		go sv.runWorkingWorker(ctx)
	}
	for i := 0; i < sv.Pools.Delivery; i++ {
		sv.wg.Add(1)
		go sv.runDeliveryWorker(ctx)
	}

	// Workers are already draining workingCh/deliveryCh, so seeding them
	// from a directory listing here cannot deadlock even when a crash
	// left more pending messages than the channel buffer holds.
	if err := sv.reconcile(); err != nil {
		return fmt.Errorf("supervisor: reconcile queues: %w", err)
	}

	for _, lc := range sv.Cfg.Listeners {
		ln, err := net.Listen("tcp", lc.Address)
		if err != nil {
			return fmt.Errorf("supervisor: listen %s: %w", lc.Address, err)
		}
		sv.listeners = append(sv.listeners, ln)
		sv.Log.Msg("listening", "address", lc.Address, "kind", string(lc.Kind))

		sv.wg.Add(1)
		go sv.acceptLoop(ctx, ln, lc.Kind)
	}

	sv.wg.Add(1)
	go sv.queueDepthReporter(ctx)

	return nil
}

// Stop closes every listener and releases the deferred-retry scheduler,
// then waits for in-flight workers to drain. It does not forcibly close
// live SMTP sessions; those end on their own timeout or QUIT.
func (sv *Supervisor) Stop() {
	for _, ln := range sv.listeners {
		ln.Close()
	}
	sv.deliveryStage.Stop()
	close(sv.workingCh)
	close(sv.deliveryCh)
	sv.wg.Wait()
}

func (sv *Supervisor) acceptLoop(ctx context.Context, ln net.Listener, kind config.ListenerKind) {
	defer sv.wg.Done()
	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if isClosed(err) {
				return
			}
			sv.Log.Error("accept failed", err, "kind", string(kind))
			continue
		}

		if atomic.AddInt32(&sv.connCount, 1) > sv.maxConns {
			atomic.AddInt32(&sv.connCount, -1)
			metrics.SessionsRejected.WithLabelValues("connection_max").Inc()
			raw.Write([]byte(reply.New(554, "connection max reached").Fold()))
			raw.Close()
			continue
		}

		metrics.SessionsAccepted.WithLabelValues(string(kind)).Inc()
		sv.wg.Add(1)
		go func() {
			defer sv.wg.Done()
			defer atomic.AddInt32(&sv.connCount, -1)
			sv.serveConn(ctx, raw, kind)
		}()
	}
}

func (sv *Supervisor) serveConn(ctx context.Context, raw net.Conn, kind config.ListenerKind) {
	defer raw.Close()

	conn := raw
	implicitTLS := kind == config.Submissions
	serverName := ""
	if implicitTLS {
		if sv.TLSTable == nil {
			sv.Log.Msg("implicit-TLS listener has no certificate table configured, dropping connection")
			return
		}
		timeout := config.Duration(sv.Cfg.TLS.HandshakeTimeout, 10*time.Second)
		tlsConn, sni, err := tlsupgrade.Upgrade(ctx, raw, sv.TLSTable.Config(), timeout)
		if err != nil {
			sv.Log.Error("implicit TLS handshake failed", err)
			return
		}
		conn = tlsConn
		serverName = sni
	}

	sessCfg := sv.sessionConfig(kind)
	sess := smtpsession.New(conn, sessCfg, time.Now(), implicitTLS, serverName)
	if err := sess.Serve(ctx); err != nil {
		sv.Log.Debugf("session ended: %v", err)
	}
}

func (sv *Supervisor) sessionConfig(kind config.ListenerKind) smtpsession.Config {
	var tlsCfg *tls.Config
	if sv.TLSTable != nil && kind != config.Submissions {
		tlsCfg = sv.TLSTable.Config()
	}

	cfg := smtpsession.Config{
		Hostname:               sv.Cfg.Hostname,
		MaxRecipients:          sv.Cfg.Limits.MaxRecipients,
		MaxMessageSize:         sv.Cfg.Limits.MaxMessageSize,
		CommandTimeout:         config.Duration(sv.Cfg.Timeouts.Command, time.Minute),
		DataTimeout:            config.Duration(sv.Cfg.Timeouts.Data, 10*time.Minute),
		ErrorSoftThreshold:     sv.Cfg.Errors.SoftThreshold,
		ErrorHardThreshold:     sv.Cfg.Errors.HardThreshold,
		ErrorBackoff:           config.Duration(sv.Cfg.Errors.Backoff, time.Second),
		TLSConfig:              tlsCfg,
		TLSHandshakeTimeout:    config.Duration(sv.Cfg.TLS.HandshakeTimeout, 10*time.Second),
		DangerousPlaintextAuth: sv.Cfg.SASL.DangerousPlaintextAuth,
		AuthAttemptCap:         sv.Cfg.SASL.AuthAttemptCap,
		GenerateMsgID:          generateMsgID,
		Policy:                 sv.Policy,
		Handler:                queue.Handler{Manager: sv.Queue, Dest: queue.Working, Signal: sv.workingCh},
		DeadHandler:            queue.Handler{Manager: sv.Queue, Dest: queue.Dead},
	}

	if sv.Authenticator != nil {
		cfg.SASLMechanisms = mechanismLister(sv.Cfg.SASL.Mechanisms)
		cfg.NewSASLServer = saslProvider(sv.Cfg.SASL.Mechanisms, sv.Authenticator, sv.CramLookup)
	}
	return cfg
}

func (sv *Supervisor) runWorkingWorker(ctx context.Context) {
	defer sv.wg.Done()
	for id := range sv.workingCh {
		advanced, err := sv.workingStage.ProcessOne(ctx, id)
		if err != nil {
			sv.Log.Error("working stage failed", err, "id", id)
			continue
		}
		if !advanced {
			// Routed to dead (PostQ deny, no deliverable recipients): no
			// deliver-queue file exists for id, so it must not be
			// published on the delivery channel (spec.md §8 scenario S6).
			continue
		}
		select {
		case sv.deliveryCh <- id:
		case <-ctx.Done():
			return
		}
	}
}

func (sv *Supervisor) runDeliveryWorker(ctx context.Context) {
	defer sv.wg.Done()
	for id := range sv.deliveryCh {
		if err := sv.deliveryStage.ProcessOne(ctx, id); err != nil {
			sv.Log.Error("delivery stage failed", err, "id", id)
		}
	}
}

// queueDepthReporter periodically lists every queue directory to keep
// metrics.QueueDepth current; queue state itself never depends on this —
// it is observability only.
func (sv *Supervisor) queueDepthReporter(ctx context.Context) {
	defer sv.wg.Done()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, q := range []queue.Name{queue.Working, queue.Deliver, queue.Deferred, queue.Dead} {
				ids, err := sv.Queue.List(q)
				if err != nil {
					continue
				}
				metrics.QueueDepth.WithLabelValues(string(q)).Set(float64(len(ids)))
			}
		case <-ctx.Done():
			return
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
