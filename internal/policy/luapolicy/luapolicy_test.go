package luapolicy

import (
	"context"
	"testing"

	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/policy"
)

const testScript = `
function mail_from(ctx)
  if ctx.mail_from == "blocked@example.com" then
    return {status="deny", code=550, enhanced="5.7.1", message="go away"}
  end
  return "next"
end

function rcpt_to(ctx)
  if #ctx.rcpts > 0 and ctx.rcpts[1].domain == "skip.example.com" then
    return "faccept"
  end
  return "next"
end
`

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(testScript)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestRunNextWhenNoRule(t *testing.T) {
	e := mustEngine(t)
	mc := &mailctx.MailContext{}
	status, err := e.Run(context.Background(), policy.Connect, mc)
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind() != policy.StatusNext {
		t.Fatalf("Kind = %v, want StatusNext", status.Kind())
	}
}

func TestRunDeny(t *testing.T) {
	e := mustEngine(t)
	mc := &mailctx.MailContext{Envelope: mailctx.Envelope{MailFrom: "blocked@example.com"}}
	status, err := e.Run(context.Background(), policy.MailFrom, mc)
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind() != policy.StatusDeny {
		t.Fatalf("Kind = %v, want StatusDeny", status.Kind())
	}
	if status.Reply().Code != 550 {
		t.Fatalf("Code = %d, want 550", status.Reply().Code)
	}
}

func TestRunFaccept(t *testing.T) {
	e := mustEngine(t)
	addr, err := mailctx.NewAddress("x@skip.example.com")
	if err != nil {
		t.Fatal(err)
	}
	mc := &mailctx.MailContext{
		Envelope: mailctx.Envelope{
			Rcpts: []mailctx.Recipient{{Addr: addr, Method: mailctx.Deliver(), Status: mailctx.Waiting()}},
		},
	}
	status, err := e.Run(context.Background(), policy.RcptTo, mc)
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind() != policy.StatusFaccept {
		t.Fatalf("Kind = %v, want StatusFaccept", status.Kind())
	}
}
