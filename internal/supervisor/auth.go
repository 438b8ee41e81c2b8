package supervisor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/policy"
	"github.com/mtaserv/mtaserv/internal/saslsrv"
	"github.com/mtaserv/mtaserv/internal/smtpsession"
)

// mechanismLister restricts saslsrv.Mechanisms to the subset configured
// in the SASL config section (spec.md §6: "only when configured").
func mechanismLister(configured []string) smtpsession.MechanismLister {
	allow := make(map[string]bool, len(configured))
	for _, m := range configured {
		allow[strings.ToUpper(m)] = true
	}
	return func(tlsActive bool) []string {
		var out []string
		for _, m := range saslsrv.Mechanisms(tlsActive) {
			if allow[strings.ToUpper(m)] {
				out = append(out, m)
			}
		}
		return out
	}
}

// saslProvider adapts the supervisor's plaintext Authenticator and
// CramLookup into smtpsession's SASLProvider shape, gating each mechanism
// by the same configured allow-list mechanismLister uses.
func saslProvider(configured []string, authenticate AuthFunc, cramLookup CramLookupFunc) smtpsession.SASLProvider {
	allow := make(map[string]bool, len(configured))
	for _, m := range configured {
		allow[strings.ToUpper(m)] = true
	}

	return func(mech string, tlsActive bool, onSuccess func(username string)) (sasl.Server, error) {
		mech = strings.ToUpper(mech)
		if !allow[mech] {
			return nil, saslsrv.ErrUnsupportedMechanism
		}
		if mech == sasl.CramMD5 {
			if cramLookup == nil {
				return nil, saslsrv.ErrUnsupportedMechanism
			}
			return saslsrv.NewCramMD5(saslsrv.CredentialLookup(cramLookup), func(username string) error {
				onSuccess(username)
				return nil
			}), nil
		}
		return saslsrv.New(mech, tlsActive, func(username, password string) error {
			if err := authenticate(username, password); err != nil {
				return err
			}
			onSuccess(username)
			return nil
		})
	}
}

var errAuthNoOpinion = errors.New("supervisor: policy returned no verdict for authenticate stage")

// NewPolicyAuthenticator builds an AuthFunc that runs the policy engine's
// Authenticate stage (spec.md §4.8) rather than checking a static
// credential table: the candidate username/password is staged into a
// throwaway MailContext's transient Conn.Credentials field (the same
// field mailctx.Credentials documents as "populated only transiently,
// while a PLAIN/LOGIN exchange is being checked against policy"), and the
// verdict is interpreted as:
//
//   - Info(packet): packet is the expected password for username; a
//     mismatch fails the attempt. This is the "stage-specific side-channel
//     ... used by the SASL callback to supply a password" spec.md §4.8
//     names.
//   - Accept / Faccept: the attempt succeeds outright (the script already
//     did its own verification).
//   - Deny: the attempt fails.
//   - Next: the script expressed no opinion on this username; fall back
//     to the static credentials map, if any.
func NewPolicyAuthenticator(eng policy.Engine, fallback map[string]string) AuthFunc {
	return func(username, password string) error {
		mc := mailctx.MailContext{
			Conn: mailctx.ConnState{
				Credentials: &mailctx.Credentials{Username: username, Password: password},
			},
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := eng.Run(ctx, policy.Authenticate, &mc)
		if err != nil {
			return err
		}

		switch status.Kind() {
		case policy.StatusInfo:
			if status.Packet() != password {
				return errors.New("supervisor: password mismatch")
			}
			return nil
		case policy.StatusAccept, policy.StatusFaccept:
			return nil
		case policy.StatusDeny:
			return errors.New("supervisor: authentication denied by policy")
		default:
			secret, ok := fallback[username]
			if !ok || secret != password {
				return errAuthNoOpinion
			}
			return nil
		}
	}
}
