package address

import "testing"

func TestParseSplit(t *testing.T) {
	a, err := Parse("Foo.Bar@Example.COM")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Local() != "Foo.Bar" {
		t.Errorf("local = %q", a.Local())
	}
	if a.Domain() != "Example.COM" {
		t.Errorf("domain = %q", a.Domain())
	}
	if a.String() != "Foo.Bar@Example.COM" {
		t.Errorf("String = %q", a.String())
	}
}

func TestParsePostmaster(t *testing.T) {
	a, err := Parse("Postmaster")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Domain() != "" {
		t.Errorf("expected empty domain, got %q", a.Domain())
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{"", "noat", "@domain", "local@"}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q): expected error", c)
		}
	}
}

func TestEqual(t *testing.T) {
	a, _ := Parse("user@Example.com")
	b, _ := Parse("user@example.COM")
	if !a.Equal(b) {
		t.Error("expected domain-case-insensitive equality")
	}

	c, _ := Parse("User@example.com")
	if a.Equal(c) {
		t.Error("expected local-part case-sensitive inequality")
	}
}

func TestValid(t *testing.T) {
	if !Valid("a@b.com") {
		t.Error("expected valid")
	}
	if Valid("not-an-address") {
		t.Error("expected invalid")
	}
}
