package working

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/policy"
	"github.com/mtaserv/mtaserv/internal/queue"
	"github.com/mtaserv/mtaserv/internal/trace"
)

type fixedPolicy struct {
	status policy.Status
	err    error
}

func (f fixedPolicy) Run(context.Context, policy.Stage, *mailctx.MailContext) (policy.Status, error) {
	return f.status, f.err
}

func newTestContext(t *testing.T, rawBody string, rcpts ...mailctx.Recipient) mailctx.MailContext {
	t.Helper()
	return mailctx.MailContext{
		Conn: mailctx.NewConnState(nil, time.Now(), "mtaserv.example"),
		Envelope: mailctx.Envelope{
			Helo:     "client.example",
			MailFrom: "sender@example.com",
			Rcpts:    rcpts,
		},
		Body: mailctx.Raw([]byte(rawBody)),
		Meta: mailctx.NewMsgMetadata("msg1", time.Now()),
	}
}

func rcpt(t *testing.T, addr string, method mailctx.TransferMethod) mailctx.Recipient {
	t.Helper()
	a, err := mailctx.NewAddress(addr)
	if err != nil {
		t.Fatalf("NewAddress(%s): %v", addr, err)
	}
	return mailctx.Recipient{Addr: a, Method: method, Status: mailctx.Waiting()}
}

func TestProcessOneAcceptedMovesToDeliver(t *testing.T) {
	root := t.TempDir()
	q := queue.New(root)
	mc := newTestContext(t, "Subject: hi\r\n\r\nbody\r\n", rcpt(t, "bob@example.com", mailctx.Deliver()))
	data, err := mc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := q.Write(queue.Working, "msg1", data); err != nil {
		t.Fatalf("seed Write: %v", err)
	}

	s := Stage{Queue: q, Policy: fixedPolicy{status: policy.Next()}}
	advanced, err := s.ProcessOne(context.Background(), "msg1")
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if !advanced {
		t.Fatal("ProcessOne should report advanced=true for a message reaching deliver")
	}

	if q.Exists(queue.Working, "msg1") {
		t.Fatal("message should be removed from working")
	}
	if !q.Exists(queue.Deliver, "msg1") {
		t.Fatal("message should be present in deliver")
	}
}

func TestProcessOneDeniedMovesToDead(t *testing.T) {
	root := t.TempDir()
	q := queue.New(root)
	mc := newTestContext(t, "Subject: hi\r\n\r\nbody\r\n", rcpt(t, "bob@example.com", mailctx.Deliver()))
	data, err := mc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := q.Write(queue.Working, "msg1", data); err != nil {
		t.Fatalf("seed Write: %v", err)
	}

	s := Stage{Queue: q, Policy: fixedPolicy{status: policy.DenyDefault()}}
	advanced, err := s.ProcessOne(context.Background(), "msg1")
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if advanced {
		t.Fatal("ProcessOne should report advanced=false for a policy-denied message")
	}

	if q.Exists(queue.Working, "msg1") {
		t.Fatal("message should be removed from working")
	}
	if !q.Exists(queue.Dead, "msg1") {
		t.Fatal("message should be present in dead")
	}
	if q.Exists(queue.Deliver, "msg1") {
		t.Fatal("message should not reach deliver")
	}
}

func TestProcessOneSkipsPostQueuePolicyWhenFaccepted(t *testing.T) {
	root := t.TempDir()
	q := queue.New(root)
	mc := newTestContext(t, "Subject: hi\r\n\r\nbody\r\n", rcpt(t, "bob@example.com", mailctx.Deliver()))
	mc.Meta = mc.Meta.Faccept("rcpt_to", "forced accept")
	data, err := mc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := q.Write(queue.Working, "msg1", data); err != nil {
		t.Fatalf("seed Write: %v", err)
	}

	pol := fixedPolicy{status: policy.DenyDefault()}
	s := Stage{Queue: q, Policy: pol}
	advanced, err := s.ProcessOne(context.Background(), "msg1")
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if !advanced {
		t.Fatal("a Faccepted message must skip the post-queue policy check and reach deliver")
	}
	if !q.Exists(queue.Deliver, "msg1") {
		t.Fatal("message should be present in deliver")
	}
}

func TestProcessOneAllNoneRecipientsGoesToDead(t *testing.T) {
	root := t.TempDir()
	q := queue.New(root)
	mc := newTestContext(t, "Subject: hi\r\n\r\nbody\r\n", rcpt(t, "bob@example.com", mailctx.None()))
	data, err := mc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := q.Write(queue.Working, "msg1", data); err != nil {
		t.Fatalf("seed Write: %v", err)
	}

	s := Stage{Queue: q, Policy: fixedPolicy{status: policy.Next()}}
	if _, err := s.ProcessOne(context.Background(), "msg1"); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	if !q.Exists(queue.Dead, "msg1") {
		t.Fatal("message with no deliverable recipients should be dead")
	}
}

func TestProcessOneTooManyReceivedHeadersGoesToDead(t *testing.T) {
	root := t.TempDir()
	q := queue.New(root)
	loopedBody := "Received: from a by b; now\r\n" +
		"Received: from c by d; now\r\n" +
		"Subject: hi\r\n\r\nbody\r\n"
	mc := newTestContext(t, loopedBody, rcpt(t, "bob@example.com", mailctx.Deliver()))
	data, err := mc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := q.Write(queue.Working, "msg1", data); err != nil {
		t.Fatalf("seed Write: %v", err)
	}

	s := Stage{Queue: q, Policy: fixedPolicy{status: policy.Next()}, MaxReceivedHops: 2}
	if _, err := s.ProcessOne(context.Background(), "msg1"); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	if !q.Exists(queue.Dead, "msg1") {
		t.Fatal("message at the hop limit should be rejected as a forwarding loop")
	}
	if q.Exists(queue.Deliver, "msg1") {
		t.Fatal("looped message should not reach deliver")
	}
}

func TestProcessOnePrependsReceivedHeaderBeforeDeliver(t *testing.T) {
	root := t.TempDir()
	q := queue.New(root)
	mc := newTestContext(t, "Subject: hi\r\n\r\nbody\r\n", rcpt(t, "bob@example.com", mailctx.Deliver()))
	data, err := mc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := q.Write(queue.Working, "msg1", data); err != nil {
		t.Fatalf("seed Write: %v", err)
	}

	s := Stage{Queue: q, Policy: fixedPolicy{status: policy.Next()}, Hostname: "mx.mtaserv.example", MaxReceivedHops: 10}
	if _, err := s.ProcessOne(context.Background(), "msg1"); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	if !q.Exists(queue.Deliver, "msg1") {
		t.Fatal("message should still reach deliver")
	}
	delivered, err := q.Read(queue.Deliver, "msg1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	out, err := mailctx.Decode(delivered)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	hops, err := trace.CountReceived(out.Body.RawBytes())
	if err != nil {
		t.Fatalf("CountReceived: %v", err)
	}
	if hops != 1 {
		t.Fatalf("got %d Received headers, want 1", hops)
	}
	if !bytes.Contains(out.Body.RawBytes(), []byte("by mx.mtaserv.example")) {
		t.Fatalf("Received header missing configured hostname: %q", out.Body.RawBytes())
	}
}

func TestProcessOneUnreadableRecordGoesToDead(t *testing.T) {
	root := t.TempDir()
	q := queue.New(root)
	if err := q.Write(queue.Working, "bad1", []byte("not json")); err != nil {
		t.Fatalf("seed Write: %v", err)
	}

	s := Stage{Queue: q, Policy: fixedPolicy{status: policy.Next()}}
	if _, err := s.ProcessOne(context.Background(), "bad1"); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	if !q.Exists(queue.Dead, "bad1") {
		t.Fatal("unreadable record should be moved to dead")
	}
}
