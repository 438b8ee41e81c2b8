package mailctx

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// MailContext aggregates everything the pipeline carries for one message:
// connection context, envelope, body, and metadata (spec.md §3). It is the
// unit policy checkpoints inspect and the unit the queue persists to disk.
type MailContext struct {
	Conn     ConnState
	Envelope Envelope
	Body     Body
	Meta     MsgMetadata
}

// wireRecipient/wireMailContext mirror MailContext with only
// exported, JSON-friendly fields, since several of the real types (Address,
// TransferMethod, RecipientStatus, Body) keep their fields private to stay
// closed sum types. Encode/Decode convert through this shape, the
// self-describing on-disk format spec.md §4.6 calls for.
type wireMailContext struct {
	Timestamp     time.Time `json:"timestamp"`
	ClientAddr    string    `json:"client_addr"`
	ClientNetwork string    `json:"client_network"`
	TLS           bool      `json:"tls"`
	ServerName    string    `json:"server_name"`
	Authenticated bool      `json:"authenticated"`
	AuthUsername  string    `json:"auth_username,omitempty"`

	Helo     string          `json:"helo"`
	MailFrom string          `json:"mail_from"`
	Rcpts    []wireRecipient `json:"rcpts"`

	BodyState int    `json:"body_state"`
	BodyRaw   string `json:"body_raw,omitempty"` // base64

	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	SkipReason        string    `json:"skip_reason,omitempty"`
	SkipFurtherChecks bool      `json:"skip_further_checks"`
}

type wireRecipient struct {
	Local   string `json:"local"`
	Domain  string `json:"domain"`
	Method  string `json:"method"`
	Target  string `json:"target,omitempty"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt,omitempty"`
}

// Encode renders mc as self-describing JSON for the on-disk queue
// (spec.md §4.6). The body, if present, is embedded base64-encoded so a
// queue file is a single atomic write.
func (mc MailContext) Encode() ([]byte, error) {
	w := wireMailContext{
		Timestamp:         mc.Conn.Timestamp,
		TLS:               mc.Conn.TLS,
		ServerName:        mc.Conn.ServerName,
		Authenticated:     mc.Conn.Authenticated,
		Helo:              mc.Envelope.Helo,
		MailFrom:          mc.Envelope.MailFrom,
		BodyState:         int(mc.Body.State()),
		ID:                mc.Meta.ID,
		CreatedAt:         mc.Meta.CreatedAt,
		SkipReason:        mc.Meta.SkipReason,
		SkipFurtherChecks: mc.Meta.SkipFurtherChecks,
	}
	if mc.Conn.ClientAddr != nil {
		w.ClientAddr = mc.Conn.ClientAddr.String()
		w.ClientNetwork = mc.Conn.ClientAddr.Network()
	}
	if mc.Conn.Credentials != nil {
		w.AuthUsername = mc.Conn.Credentials.Username
	}
	if mc.Body.State() != BodyEmpty {
		w.BodyRaw = base64.StdEncoding.EncodeToString(mc.Body.RawBytes())
	}
	for _, r := range mc.Envelope.Rcpts {
		w.Rcpts = append(w.Rcpts, wireRecipient{
			Local:   r.Addr.Local(),
			Domain:  r.Addr.Domain(),
			Method:  methodTag(r.Method),
			Target:  r.Method.Target(),
			Status:  statusTag(r.Status),
			Attempt: r.Status.Attempt(),
		})
	}

	return json.Marshal(w)
}

// Decode parses data (as produced by Encode) back into a MailContext. A
// Raw or Parsed body is reconstructed by re-running the MIME parser over
// the stored bytes when the original state was Parsed — parsing is
// idempotent, so this yields a MailContext equivalent to the one encoded.
func Decode(data []byte) (MailContext, error) {
	var w wireMailContext
	if err := json.Unmarshal(data, &w); err != nil {
		return MailContext{}, err
	}

	mc := MailContext{
		Conn: ConnState{
			Timestamp:     w.Timestamp,
			ClientAddr:    textAddr{network: w.ClientNetwork, addr: w.ClientAddr},
			TLS:           w.TLS,
			ServerName:    w.ServerName,
			Authenticated: w.Authenticated,
		},
		Envelope: Envelope{Helo: w.Helo, MailFrom: w.MailFrom},
		Meta: MsgMetadata{
			ID:                w.ID,
			CreatedAt:         w.CreatedAt,
			SkipReason:        w.SkipReason,
			SkipFurtherChecks: w.SkipFurtherChecks,
		},
	}
	if w.AuthUsername != "" {
		mc.Conn.Credentials = &Credentials{Username: w.AuthUsername}
	}
	if w.ClientAddr == "" {
		mc.Conn.ClientAddr = nil
	}

	switch BodyState(w.BodyState) {
	case BodyEmpty:
		mc.Body = Empty()
	default:
		raw, err := base64.StdEncoding.DecodeString(w.BodyRaw)
		if err != nil {
			return MailContext{}, fmt.Errorf("mailctx: decode body: %w", err)
		}
		mc.Body = Raw(raw)
		if BodyState(w.BodyState) == BodyParsed {
			mc.Body, err = mc.Body.Parse()
			if err != nil {
				return MailContext{}, fmt.Errorf("mailctx: reparse body: %w", err)
			}
		}
	}

	for _, wr := range w.Rcpts {
		addr, err := NewAddress(wr.Local + "@" + wr.Domain)
		if err != nil {
			return MailContext{}, fmt.Errorf("mailctx: decode recipient: %w", err)
		}
		mc.Envelope.Rcpts = append(mc.Envelope.Rcpts, Recipient{
			Addr:   addr,
			Method: decodeMethod(wr.Method, wr.Target),
			Status: decodeStatus(wr.Status, wr.Attempt),
		})
	}

	return mc, nil
}

func methodTag(m TransferMethod) string {
	switch m.Kind() {
	case KindDeliver:
		return "deliver"
	case KindForward:
		return "forward"
	case KindMbox:
		return "mbox"
	case KindMaildir:
		return "maildir"
	default:
		return "none"
	}
}

func decodeMethod(tag, target string) TransferMethod {
	switch tag {
	case "deliver":
		return Deliver()
	case "forward":
		return Forward(target)
	case "mbox":
		return Mbox()
	case "maildir":
		return Maildir()
	default:
		return None()
	}
}

func statusTag(s RecipientStatus) string {
	switch s.Kind() {
	case StatusWaiting:
		return "waiting"
	case StatusHeldBack:
		return "held_back"
	case StatusSent:
		return "sent"
	default:
		return "failed"
	}
}

func decodeStatus(tag string, attempt int) RecipientStatus {
	switch tag {
	case "sent":
		return Sent()
	case "failed":
		return Failed()
	case "held_back":
		return HeldBack(attempt)
	default:
		return Waiting()
	}
}

// textAddr is a minimal net.Addr reconstructed from the network/address
// strings recorded by Encode; the queue only ever needs ClientAddr for
// logging and policy inspection, never for dialing back out.
type textAddr struct {
	network string
	addr    string
}

func (a textAddr) Network() string { return a.network }
func (a textAddr) String() string  { return a.addr }
