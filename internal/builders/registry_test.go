package builders_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Keeeszo/friends-bot/internal/builders"
)

func TestRegisterAccountDuplicateTag(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "file")
	ctx := context.Background()

	f.register(t, "100", "alice", "#ABC123", "Keeeszo", 3)

	_, err := f.registry.RegisterAccount(ctx, builders.RegisterRequest{
		OwnerID: "200", OwnerName: "bob", Tag: "abc123", Name: "Keeeszo", Capacity: 2,
	})
	if !errors.Is(err, builders.ErrDuplicateTag) {
		t.Fatalf("err = %v, want ErrDuplicateTag", err)
	}
	var dup *builders.DuplicateTagError
	if !errors.As(err, &dup) || dup.OwnerName != "alice" || dup.Tag != "#ABC123" {
		t.Fatalf("err = %#v, want DuplicateTagError naming alice", err)
	}

	accts, err := f.registry.Accounts(ctx, "200")
	if err != nil || len(accts) != 0 {
		t.Fatalf("bob's accounts changed: %v, %v", accts, err)
	}

	ok, name, err := f.registry.IsTagRegistered(ctx, "#abc123")
	if err != nil || !ok || name != "alice" {
		t.Fatalf("IsTagRegistered = %v, %q, %v", ok, name, err)
	}
}

func TestRegisterAccountOverwriteOwn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "sqlite")
	ctx := context.Background()

	f.register(t, "100", "alice", "#AAA", "Main", 2)
	f.add(t, "100", "#AAA", "1h", "")
	f.register(t, "100", "alice", "#AAA", "Main", 5)

	byTag, err := f.registry.AccountsByTag(ctx, "100")
	if err != nil {
		t.Fatalf("AccountsByTag: %v", err)
	}
	a := byTag["#AAA"]
	if a.Capacity != 5 || len(a.Tasks) != 0 {
		t.Fatalf("overwritten account = %+v, want capacity 5 and no tasks", a)
	}
}

func TestValidateCapacity(t *testing.T) {
	t.Parallel()
	r := builders.NewRegistry(nil, nil, builders.Options{})
	for _, n := range []int{1, 3, 6} {
		if err := r.ValidateCapacity(n); err != nil {
			t.Errorf("ValidateCapacity(%d) = %v", n, err)
		}
	}
	for _, n := range []int{-1, 0, 7} {
		if err := r.ValidateCapacity(n); !errors.Is(err, builders.ErrCapacityOutOfRange) {
			t.Errorf("ValidateCapacity(%d) = %v, want ErrCapacityOutOfRange", n, err)
		}
	}
	r.SetCapacityRange(1, 5)
	if err := r.ValidateCapacity(6); !errors.Is(err, builders.ErrCapacityOutOfRange) {
		t.Errorf("ValidateCapacity(6) with max 5 = %v", err)
	}
}

func TestRegisterMember(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "file")
	ctx := context.Background()
	f.members.members = []builders.Member{
		{Tag: "#VGGG0VY", Name: "Keeeszo", Level: 16},
		{Tag: "#P2U8", Name: "Ñandú", Level: 12},
	}

	acct, err := f.registry.RegisterMember(ctx, "100", "alice", "keeeszo", 4)
	if err != nil {
		t.Fatalf("RegisterMember: %v", err)
	}
	if acct.Tag != "#VGGG0VY" || acct.Name != "Keeeszo" || acct.Level != 16 {
		t.Fatalf("account = %+v, want canonical member data", acct)
	}

	if _, err := f.registry.RegisterMember(ctx, "100", "alice", "ghost", 2); !errors.Is(err, builders.ErrMemberNotFound) {
		t.Fatalf("unknown member err = %v", err)
	}
	if _, err := f.registry.RegisterMember(ctx, "100", "alice", "#P2U8", 9); !errors.Is(err, builders.ErrCapacityOutOfRange) {
		t.Fatalf("bad capacity err = %v", err)
	}

	f.members.err = errors.New("503 service unavailable")
	_, err = f.registry.RegisterMember(ctx, "100", "alice", "#P2U8", 2)
	var up *builders.UpstreamError
	if !errors.Is(err, builders.ErrUpstreamUnavailable) || !errors.As(err, &up) || up.Op != "lookup member" {
		t.Fatalf("clan API failure err = %v, want UpstreamError", err)
	}
}

func TestRegisterAccountPublishesEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "file")
	events, unsub := f.bus.Subscribe(4, builders.EventPrefix)
	defer unsub()

	f.register(t, "100", "alice", "#AAA", "Main", 2)

	e := <-events
	if e.Type != builders.EventAccountRegistered {
		t.Fatalf("event = %q", e.Type)
	}
	entry, ok := builders.AuditFromEvent(e)
	if !ok || entry.OwnerID != "100" || entry.Tag != "#AAA" || entry.Detail != "capacity=2" {
		t.Fatalf("audit entry = %+v, %v", entry, ok)
	}
}

func TestNormalizeTag(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"#abc123": "#ABC123",
		" abc123": "#ABC123",
		"#ABC":    "#ABC",
		"":        "",
	} {
		if got := builders.NormalizeTag(in); got != want {
			t.Errorf("NormalizeTag(%q) = %q, want %q", in, got, want)
		}
	}
}
