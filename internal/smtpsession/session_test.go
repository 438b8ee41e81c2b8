package smtpsession

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/policy"
	"github.com/mtaserv/mtaserv/internal/reply"
	"github.com/mtaserv/mtaserv/internal/tlsupgrade"
)

// recordingHandler captures every MailContext handed to it, standing in
// for the supervisor's working-queue writer.
type recordingHandler struct {
	mu  sync.Mutex
	mcs []mailctx.MailContext
}

func (h *recordingHandler) Handle(_ context.Context, mc mailctx.MailContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mcs = append(h.mcs, mc)
	return nil
}

func (h *recordingHandler) last() mailctx.MailContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mcs[len(h.mcs)-1]
}

func baseConfig(handler MailHandler) Config {
	return Config{
		Hostname:           "mx.mtaserv.example",
		MaxRecipients:      100,
		CommandTimeout:     2 * time.Second,
		DataTimeout:        2 * time.Second,
		ErrorSoftThreshold: 1000,
		ErrorHardThreshold: 1000,
		GenerateMsgID:      func() (string, error) { return "test-msg-1", nil },
		Policy:             policy.NoPolicy{},
		Handler:            handler,
	}
}

// testClient drives the client side of a net.Pipe-connected Session,
// writing raw command lines and parsing folded replies back with the
// reply package's own decoder.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newSession(t *testing.T, cfg Config) *testClient {
	t.Helper()
	serverRaw, clientRaw := net.Pipe()
	sess := New(serverRaw, cfg, time.Now(), false, "")
	go func() { _ = sess.Serve(context.Background()) }()

	tc := &testClient{t: t, conn: clientRaw, r: bufio.NewReader(clientRaw)}
	t.Cleanup(func() { clientRaw.Close() })
	return tc
}

func (c *testClient) send(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
}

func (c *testClient) expect(wantCode int) reply.Reply {
	c.t.Helper()
	r, err := reply.Parse(c.r)
	if err != nil {
		c.t.Fatalf("Parse reply: %v", err)
	}
	if r.Code != wantCode {
		c.t.Fatalf("got code %d (%q), want %d", r.Code, r.Text, wantCode)
	}
	return r
}

// TestS1ResetClearsEnvelope: HELO, MAIL FROM, RSET, RCPT TO must fail with
// 503 since RSET drops the transaction back to Helo, not RcptTo.
func TestS1ResetClearsEnvelope(t *testing.T) {
	c := newSession(t, baseConfig(&recordingHandler{}))

	c.expect(220)

	c.send("HELO client.example")
	c.expect(250)

	c.send("MAIL FROM:<a@b>")
	c.expect(250)

	c.send("RSET")
	c.expect(250)

	c.send("RCPT TO:<b@c>")
	c.expect(503)
}

// TestS2HappyPathWithDedupAndData drives a full transaction including a
// duplicate RCPT TO, and checks the envelope that reaches the handler
// still carries only one recipient.
func TestS2HappyPathWithDedupAndData(t *testing.T) {
	h := &recordingHandler{}
	c := newSession(t, baseConfig(h))

	c.expect(220)

	c.send("HELO client.example")
	c.expect(250)

	c.send("MAIL FROM:<foo@foo>")
	c.expect(250)

	c.send("RCPT TO:<toto@bar>")
	c.expect(250)

	c.send("RCPT TO:<toto@bar>")
	c.expect(250)

	c.send("DATA")
	c.expect(354)

	c.send("Subject: hi")
	c.send("")
	c.send("body")
	c.send(".")
	c.expect(250)

	mc := h.last()
	if len(mc.Envelope.Rcpts) != 1 {
		t.Fatalf("duplicate RCPT TO should dedup to one recipient, got %d", len(mc.Envelope.Rcpts))
	}
}

func selfSigned(t *testing.T, dnsNames ...string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: dnsNames[0]},
		DNSNames:     dnsNames,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// TestS3StartTLSOfferedOnlyBeforeTLS checks STARTTLS is advertised in EHLO
// before the handshake, absent afterward, and rejected with 554 if the
// client asks a second time.
func TestS3StartTLSOfferedOnlyBeforeTLS(t *testing.T) {
	cert := selfSigned(t, "mx.mtaserv.example")
	table, err := tlsupgrade.NewTable([]tls.Certificate{cert}, nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	cfg := baseConfig(&recordingHandler{})
	cfg.TLSConfig = table.Config()
	cfg.TLSHandshakeTimeout = 2 * time.Second

	c := newSession(t, cfg)
	c.expect(220)

	c.send("EHLO client.example")
	r := c.expect(250)
	if !strings.Contains(r.Text, "STARTTLS") {
		t.Fatalf("STARTTLS should be offered before the handshake: %q", r.Text)
	}

	c.send("STARTTLS")
	c.expect(220)

	clientConn := tls.Client(c.conn, &tls.Config{InsecureSkipVerify: true, ServerName: "mx.mtaserv.example"})
	if err := clientConn.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	c.conn = clientConn
	c.r = bufio.NewReader(clientConn)

	c.send("EHLO client.example")
	r = c.expect(250)
	if strings.Contains(r.Text, "STARTTLS") {
		t.Fatalf("STARTTLS should not be re-offered once already secured: %q", r.Text)
	}

	c.send("STARTTLS")
	c.expect(554)
}

// TestS4AuthOverClearRejectedByDefault checks a TLS-requiring mechanism is
// refused with 538 when the connection is still plaintext and dangerous
// plaintext auth is off.
func TestS4AuthOverClearRejectedByDefault(t *testing.T) {
	cfg := baseConfig(&recordingHandler{})
	cfg.SASLMechanisms = func(tlsActive bool) []string { return []string{"PLAIN"} }
	cfg.NewSASLServer = func(mech string, tlsActive bool, onSuccess func(string)) (sasl.Server, error) {
		t.Fatal("a SASL server must never be constructed once the TLS-required check already rejected the mechanism")
		return nil, nil
	}

	c := newSession(t, cfg)
	c.expect(220)

	c.send("EHLO client.example")
	c.expect(250)

	c.send("AUTH PLAIN AGZvbwBiYXI=")
	r := c.expect(538)
	if r.Enhanced != (reply.Enhanced{Class: 5, Subject: 7, Detail: 11}) {
		t.Fatalf("enhanced code = %v, want 5.7.11", r.Enhanced)
	}
}
