package saslsrv

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/emersion/go-sasl"
)

func TestMechanismsRequireTLS(t *testing.T) {
	withTLS := Mechanisms(true)
	withoutTLS := Mechanisms(false)

	if len(withoutTLS) != 1 || withoutTLS[0] != sasl.CramMD5 {
		t.Fatalf("plaintext mechanisms = %v, want only CRAM-MD5", withoutTLS)
	}
	found := false
	for _, m := range withTLS {
		if m == sasl.Plain {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected PLAIN once TLS is active: %v", withTLS)
	}
}

func TestPlainRejectedWithoutTLS(t *testing.T) {
	_, err := New(sasl.Plain, false, func(string, string) error { return nil })
	if err != ErrUnsupportedMechanism {
		t.Fatalf("err = %v, want ErrUnsupportedMechanism", err)
	}
}

func TestLoginExchange(t *testing.T) {
	var gotUser, gotPass string
	srv, err := New(sasl.Login, true, func(u, p string) error {
		gotUser, gotPass = u, p
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	_, done, err := srv.Next(nil)
	if done || err != nil {
		t.Fatalf("initial Next: done=%v err=%v", done, err)
	}
	_, done, err = srv.Next([]byte("alice"))
	if done || err != nil {
		t.Fatalf("username Next: done=%v err=%v", done, err)
	}
	_, done, err = srv.Next([]byte("hunter2"))
	if !done || err != nil {
		t.Fatalf("password Next: done=%v err=%v", done, err)
	}
	if gotUser != "alice" || gotPass != "hunter2" {
		t.Fatalf("got user=%q pass=%q", gotUser, gotPass)
	}
}

func TestCramMD5Exchange(t *testing.T) {
	const secret = "s3cr3t"
	srv := NewCramMD5(func(username string) (string, bool, error) {
		if username != "alice" {
			return "", false, nil
		}
		return secret, true, nil
	}, nil)

	challenge, done, err := srv.Next(nil)
	if done || err != nil {
		t.Fatalf("initial Next: done=%v err=%v", done, err)
	}

	mac := hmac.New(md5.New, []byte(secret))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))

	_, done, err = srv.Next([]byte("alice " + digest))
	if !done || err != nil {
		t.Fatalf("response Next: done=%v err=%v", done, err)
	}
}

func TestCramMD5CallsOnSuccessWithUsername(t *testing.T) {
	const secret = "s3cr3t"
	var got string
	srv := NewCramMD5(func(username string) (string, bool, error) {
		return secret, true, nil
	}, func(username string) error {
		got = username
		return nil
	})

	challenge, _, _ := srv.Next(nil)
	mac := hmac.New(md5.New, []byte(secret))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))

	_, done, err := srv.Next([]byte("alice " + digest))
	if !done || err != nil {
		t.Fatalf("response Next: done=%v err=%v", done, err)
	}
	if got != "alice" {
		t.Fatalf("onSuccess username = %q, want alice", got)
	}
}

func TestCramMD5WrongDigest(t *testing.T) {
	srv := NewCramMD5(func(username string) (string, bool, error) {
		return "s3cr3t", true, nil
	}, nil)
	_, _, _ = srv.Next(nil)
	_, done, err := srv.Next([]byte("alice deadbeef"))
	if !done || err == nil {
		t.Fatal("expected digest mismatch error")
	}
}
