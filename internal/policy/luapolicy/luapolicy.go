// Package luapolicy implements policy.Engine by driving a gopher-lua
// state: one global function per policy.Stage (connect, helo, mail_from,
// rcpt_to, pre_queue, post_queue, delivery, authenticate), called with a
// table snapshot of the MailContext and returning a verdict table.
//
// vSMTP's original rule engine (original_source/vsmtp-rule-engine) embeds
// Rhai; gopher-lua is this corpus's closest real equivalent — an
// embeddable scripting engine with a similar "call a named stage function,
// inspect a context object" shape — grounded on its presence in
// LLRHook-mailit's go.mod (the only pack manifest that carries it).
package luapolicy

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/policy"
	"github.com/mtaserv/mtaserv/internal/reply"
)

// Engine is a policy.Engine backed by one Lua script, loaded once at
// construction. gopher-lua's *lua.LState is not safe for concurrent use,
// so calls into it are serialized by mu — acceptable since a policy
// verdict is expected to be a fast, non-blocking decision (spec.md §4.8
// treats the engine as synchronous).
type Engine struct {
	mu sync.Mutex
	L  *lua.LState
}

// New loads script (Lua source) into a fresh interpreter state.
func New(script string) (*Engine, error) {
	L := lua.NewState()
	if err := L.DoString(script); err != nil {
		L.Close()
		return nil, fmt.Errorf("luapolicy: load script: %w", err)
	}
	return &Engine{L: L}, nil
}

// NewFromFile loads the script at path.
func NewFromFile(path string) (*Engine, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("luapolicy: load script %s: %w", path, err)
	}
	return &Engine{L: L}, nil
}

// Close releases the underlying Lua state.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.L.Close()
	return nil
}

// Run implements policy.Engine. If stage has no corresponding global
// function defined in the script, Run returns policy.Next() without
// invoking Lua at all.
func (e *Engine) Run(ctx context.Context, stage policy.Stage, mc *mailctx.MailContext) (policy.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.L.GetGlobal(stage.String())
	if fn.Type() != lua.LTFunction {
		return policy.Next(), nil
	}

	argTable := contextToLua(e.L, mc)
	if err := e.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, argTable); err != nil {
		return policy.Status{}, fmt.Errorf("luapolicy: %s: %w", stage, err)
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)

	status, err := luaToStatus(ret)
	if err != nil {
		return policy.Status{}, fmt.Errorf("luapolicy: %s: %w", stage, err)
	}

	applyMutations(argTable, mc)
	return status, nil
}

// contextToLua builds the read/write table a stage function receives,
// mirroring the fields of mailctx.MailContext a policy script can
// plausibly need (spec.md §4.8's "stage-specific side-channel" and rule
// inspection needs).
func contextToLua(L *lua.LState, mc *mailctx.MailContext) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("helo", lua.LString(mc.Envelope.Helo))
	t.RawSetString("mail_from", lua.LString(mc.Envelope.MailFrom))
	t.RawSetString("client_addr", addrString(mc))
	t.RawSetString("tls", lua.LBool(mc.Conn.TLS))
	t.RawSetString("authenticated", lua.LBool(mc.Conn.Authenticated))
	t.RawSetString("msg_id", lua.LString(mc.Meta.ID))
	if mc.Conn.Credentials != nil {
		t.RawSetString("auth_username", lua.LString(mc.Conn.Credentials.Username))
		t.RawSetString("auth_password", lua.LString(mc.Conn.Credentials.Password))
	}

	rcpts := L.NewTable()
	for i, r := range mc.Envelope.Rcpts {
		rt := L.NewTable()
		rt.RawSetString("local", lua.LString(r.Addr.Local()))
		rt.RawSetString("domain", lua.LString(r.Addr.Domain()))
		rt.RawSetString("address", lua.LString(r.Addr.String()))
		rcpts.RawSetInt(i+1, rt)
	}
	t.RawSetString("rcpts", rcpts)

	return t
}

func addrString(mc *mailctx.MailContext) lua.LString {
	if mc.Conn.ClientAddr == nil {
		return ""
	}
	return lua.LString(mc.Conn.ClientAddr.String())
}

// applyMutations copies back the subset of fields a script is allowed to
// change: currently just mail_from, since recipient/transfer-method
// rewriting happens through dedicated actions in a fuller rule surface
// that spec.md's PreQueue/PostQueue model does not require.
func applyMutations(t *lua.LTable, mc *mailctx.MailContext) {
	if v, ok := t.RawGetString("mail_from").(lua.LString); ok {
		mc.Envelope.MailFrom = string(v)
	}
}

// luaToStatus converts a stage function's return value into a
// policy.Status. A bare string "next"/"accept"/"faccept"/"deny" is accepted
// for the common cases (a bare "deny" uses the stage's default reply); a
// table is required for a deny with code/enhanced/message and for info
// (packet).
func luaToStatus(v lua.LValue) (policy.Status, error) {
	if v == lua.LNil {
		return policy.Next(), nil
	}

	switch val := v.(type) {
	case lua.LString:
		switch string(val) {
		case "", "next":
			return policy.Next(), nil
		case "accept":
			return policy.Accept(), nil
		case "faccept":
			return policy.Faccept(), nil
		case "deny":
			return policy.DenyDefault(), nil
		default:
			return policy.Status{}, fmt.Errorf("unrecognized status %q", string(val))
		}
	case *lua.LTable:
		status, _ := val.RawGetString("status").(lua.LString)
		switch string(status) {
		case "deny":
			code, _ := val.RawGetString("code").(lua.LNumber)
			message, _ := val.RawGetString("message").(lua.LString)
			if code == 0 {
				return policy.DenyDefault(), nil
			}
			enh := reply.Enhanced{}
			if es, ok := val.RawGetString("enhanced").(lua.LString); ok {
				fmt.Sscanf(string(es), "%d.%d.%d", &enh.Class, &enh.Subject, &enh.Detail)
			}
			return policy.Deny(reply.NewEnhanced(int(code), enh, string(message))), nil
		case "info":
			packet, _ := val.RawGetString("packet").(lua.LString)
			return policy.Info(string(packet)), nil
		case "faccept":
			return policy.Faccept(), nil
		case "accept":
			return policy.Accept(), nil
		default:
			return policy.Next(), nil
		}
	default:
		return policy.Status{}, fmt.Errorf("stage function returned unsupported type %s", v.Type())
	}
}
