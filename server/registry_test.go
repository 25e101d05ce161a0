package server

import (
	"strings"
	"testing"
)

func TestRegistryAddIsPending(t *testing.T) {
	r := NewRegistry(nil)
	c := r.Add("cli_1", "127.0.0.1", "socket")
	if c.Hostname != PendingHostname || c.Registered {
		t.Fatalf("fresh client = %+v", c)
	}
	if got := r.Registered(); len(got) != 0 {
		t.Fatalf("pending client listed as registered: %+v", got)
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("cli_1", "127.0.0.1", "socket")

	evicted, err := r.Register("cli_1", "devbox", "myproj")
	if err != nil {
		t.Fatal(err)
	}
	if evicted != "" {
		t.Fatalf("evicted = %q, want none", evicted)
	}

	c, ok := r.Get("cli_1")
	if !ok || !c.Registered || c.Hostname != "devbox" || c.RootDirName != "myproj" {
		t.Fatalf("client = %+v", c)
	}
	if r.RootDirName("cli_1") != "myproj" {
		t.Fatal("root dir name lost")
	}
}

func TestRegistryRegisterUnknownClient(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Register("ghost", "devbox", ""); err == nil {
		t.Fatal("expected error for unknown client")
	}
}

func TestRegistryHostnameConflictEvicts(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("cli_old", "127.0.0.1", "socket")
	r.Register("cli_old", "devbox", "proj")

	r.Add("cli_new", "127.0.0.2", "socket")
	evicted, err := r.Register("cli_new", "devbox", "proj")
	if err != nil {
		t.Fatal(err)
	}
	if evicted != "cli_old" {
		t.Fatalf("evicted = %q, want cli_old", evicted)
	}

	old, _ := r.Get("cli_old")
	if old.Registered || !strings.HasPrefix(old.Hostname, "EVICTED by ") {
		t.Fatalf("evicted client = %+v", old)
	}

	// The hostname now resolves to the new client only.
	regs := r.Registered()
	if len(regs) != 1 || regs[0].ID != "cli_new" {
		t.Fatalf("registered = %+v", regs)
	}
}

func TestRegistryRemoveKeepsReplacementIndex(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("cli_old", "127.0.0.1", "socket")
	r.Register("cli_old", "devbox", "proj")
	r.Add("cli_new", "127.0.0.2", "socket")
	r.Register("cli_new", "devbox", "proj")

	// The evicted client's departure must not unhook the replacement.
	r.Remove("cli_old")
	r.Add("cli_third", "127.0.0.3", "socket")
	evicted, err := r.Register("cli_third", "devbox", "proj")
	if err != nil {
		t.Fatal(err)
	}
	if evicted != "cli_new" {
		t.Fatalf("evicted = %q, want cli_new", evicted)
	}
}

func TestRegistryRegisteredSorted(t *testing.T) {
	r := NewRegistry(nil)
	for _, c := range []struct{ id, host string }{
		{"cli_1", "zeta"}, {"cli_2", "alpha"}, {"cli_3", "mid"},
	} {
		r.Add(c.id, "127.0.0.1", "polling")
		r.Register(c.id, c.host, "")
	}

	regs := r.Registered()
	if len(regs) != 3 {
		t.Fatalf("registered = %d, want 3", len(regs))
	}
	if regs[0].Hostname != "alpha" || regs[2].Hostname != "zeta" {
		t.Fatalf("not sorted by hostname: %+v", regs)
	}
}
