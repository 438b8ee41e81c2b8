// Package saslsrv drives the AUTH command's SASL mechanism exchange
// (spec.md §4.5): PLAIN and LOGIN using github.com/emersion/go-sasl's
// sasl.Server interface (PLAIN built in, LOGIN hand-rolled the way
// foxcpp-maddy's internal/auth/sasllogin does, since go-sasl dropped its
// own LOGIN server upstream), plus a hand-rolled CRAM-MD5 server behind
// the same interface for the one mechanism neither go-sasl nor any other
// pack library implements server-side.
package saslsrv

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"
)

// Authenticator verifies a username/password pair against the server's
// credential store.
type Authenticator func(username, password string) error

var ErrUnsupportedMechanism = errors.New("saslsrv: unsupported SASL mechanism")

// Mechanisms lists the mechanism names advertised in EHLO's AUTH line,
// gated by whether the connection is already TLS-protected (PLAIN/LOGIN
// transmit the password in the clear and spec.md §4.5 requires TLS first).
func Mechanisms(tlsActive bool) []string {
	if !tlsActive {
		return []string{sasl.CramMD5}
	}
	return []string{sasl.Plain, sasl.Login, sasl.CramMD5}
}

// New returns the sasl.Server implementing mech, or an error if mech is
// not one saslsrv supports in the current connection state.
func New(mech string, tlsActive bool, auth Authenticator) (sasl.Server, error) {
	switch mech {
	case sasl.Plain:
		if !tlsActive {
			return nil, ErrUnsupportedMechanism
		}
		return sasl.NewPlainServer(func(identity, username, password string) error {
			if identity != "" && identity != username {
				return errors.New("saslsrv: authorization identity must match username")
			}
			return auth(username, password)
		}), nil
	case sasl.Login:
		if !tlsActive {
			return nil, ErrUnsupportedMechanism
		}
		return newLoginServer(auth), nil
	case sasl.CramMD5:
		return nil, errors.New("saslsrv: CRAM-MD5 needs NewCramMD5 with a plaintext credential lookup, not New")
	default:
		return nil, ErrUnsupportedMechanism
	}
}

type loginState int

const (
	loginNotStarted loginState = iota
	loginWaitingUsername
	loginWaitingPassword
)

type loginServer struct {
	state              loginState
	username, password string
	authenticate       Authenticator
}

// A server implementation of the LOGIN authentication mechanism
// (draft-murchison-sasl-login-00). LOGIN is obsolete and only kept for
// legacy clients that cannot be updated to PLAIN.
func newLoginServer(authenticate Authenticator) sasl.Server {
	return &loginServer{authenticate: authenticate}
}

func (a *loginServer) Next(response []byte) (challenge []byte, done bool, err error) {
	switch a.state {
	case loginNotStarted:
		if response == nil {
			challenge = []byte("Username:")
			break
		}
		a.state++
		fallthrough
	case loginWaitingUsername:
		a.username = string(response)
		challenge = []byte("Password:")
	case loginWaitingPassword:
		a.password = string(response)
		err = a.authenticate(a.username, a.password)
		done = true
	default:
		err = sasl.ErrUnexpectedClientResponse
	}
	a.state++
	return
}

// CredentialLookup resolves a username to the password (or shared secret)
// CRAM-MD5 must validate the client's HMAC response against, since unlike
// PLAIN/LOGIN the server must know the cleartext secret before the client
// proves knowledge of it.
type CredentialLookup func(username string) (secret string, ok bool, err error)

type cramState int

const (
	cramNotStarted cramState = iota
	cramWaitingResponse
)

type cramMD5Server struct {
	state     cramState
	challenge string
	lookup    CredentialLookup
	success   func(username string) error
}

// NewCramMD5 builds a CRAM-MD5 server using an explicit CredentialLookup.
// Unlike PLAIN/LOGIN, CRAM-MD5 never sends the password over the wire, so
// the server must already hold the cleartext secret to verify the
// client's HMAC response against — a plaintext Authenticator cannot do
// that, which is why CRAM-MD5 has its own constructor rather than going
// through New. onSuccess, if non-nil, is called with the verified
// username once the digest checks out, the same "report who authenticated"
// hook New's mechanisms get from their Authenticator closures.
func NewCramMD5(lookup CredentialLookup, onSuccess func(username string) error) sasl.Server {
	return &cramMD5Server{lookup: lookup, success: onSuccess}
}

func (c *cramMD5Server) Next(response []byte) ([]byte, bool, error) {
	switch c.state {
	case cramNotStarted:
		c.challenge = fmt.Sprintf("<%x@saslsrv>", randomNonce())
		c.state = cramWaitingResponse
		return []byte(c.challenge), false, nil
	case cramWaitingResponse:
		username, digest, ok := splitCramResponse(response)
		if !ok {
			return nil, true, sasl.ErrUnexpectedClientResponse
		}
		secret, found, err := c.lookup(username)
		if err != nil {
			return nil, true, err
		}
		if !found || !validCramDigest(secret, c.challenge, digest) {
			return nil, true, errors.New("saslsrv: CRAM-MD5 digest mismatch")
		}
		if c.success != nil {
			return nil, true, c.success(username)
		}
		return nil, true, nil
	default:
		return nil, true, sasl.ErrUnexpectedClientResponse
	}
}

func splitCramResponse(response []byte) (username, digest string, ok bool) {
	s := string(response)
	i := -1
	for j := len(s) - 1; j >= 0; j-- {
		if s[j] == ' ' {
			i = j
			break
		}
	}
	if i == -1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func validCramDigest(secret, challenge, clientDigest string) bool {
	mac := hmac.New(md5.New, []byte(secret))
	mac.Write([]byte(challenge))
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(clientDigest))
}

// randomNonce is swapped for a deterministic source in tests; production
// callers get crypto/rand via cryptoNonce in nonce.go.
var randomNonce = cryptoNonce
