package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
)

func TestRelationalStrategies(t *testing.T) {
	creds := migration.CredentialSet{User: "appuser", Password: "secret", SuperuserPassword: "root"}
	got := RelationalStrategies(creds, "postgres")
	want := []CredentialStrategy{
		{Name: TierServiceUser, User: "appuser", Password: "secret"},
		{Name: TierSuperuser, User: "postgres", Password: "root"},
		{Name: TierSuperuserNoPassword, User: "postgres"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d strategies, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("strategy %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	creds.SuperuserPassword = ""
	if got := RelationalStrategies(creds, "root"); len(got) != 2 || got[1].Name != TierSuperuserNoPassword {
		t.Errorf("expected superuser tier to be omitted, got %+v", got)
	}
}

func TestKeyspaceStrategies(t *testing.T) {
	if got := KeyspaceStrategies(migration.CredentialSet{}); len(got) != 1 || got[0].Name != TierNoPassword {
		t.Errorf("unexpected strategies: %+v", got)
	}
	if got := KeyspaceStrategies(migration.CredentialSet{Password: "pw"}); len(got) != 2 || got[0].Password != "pw" {
		t.Errorf("unexpected strategies: %+v", got)
	}
}

func TestIterate_FirstAcceptedWins(t *testing.T) {
	strategies := RelationalStrategies(migration.CredentialSet{User: "u", Password: "p", SuperuserPassword: "r"}, "postgres")
	var tried []string
	got, err := Iterate(context.Background(), strategies, func(_ context.Context, s CredentialStrategy) error {
		tried = append(tried, s.Name)
		if s.Name == TierSuperuser {
			return nil
		}
		return errors.New("password authentication failed")
	})
	if err != nil {
		t.Fatalf("Iterate() error = %v", err)
	}
	if got.Name != TierSuperuser {
		t.Errorf("expected %s, got %s", TierSuperuser, got.Name)
	}
	if strings.Join(tried, ",") != "service-user,superuser" {
		t.Errorf("unexpected attempt order: %v", tried)
	}
}

func TestIterate_Exhausted(t *testing.T) {
	strategies := RelationalStrategies(migration.CredentialSet{User: "u", Password: "p"}, "root")
	_, err := Iterate(context.Background(), strategies, func(_ context.Context, s CredentialStrategy) error {
		return errors.New("denied for " + s.User)
	})
	if !errors.Is(err, migration.ErrAuthExhausted) {
		t.Fatalf("expected ErrAuthExhausted, got %v", err)
	}
	if !strings.Contains(err.Error(), "denied for u") || !strings.Contains(err.Error(), "denied for root") {
		t.Errorf("expected every rejection in error, got %v", err)
	}
	if strings.Contains(err.Error(), "\n") {
		t.Errorf("expected single-line error, got %q", err.Error())
	}
}

func TestIterate_Stop(t *testing.T) {
	calls := 0
	boom := errors.New("container gone")
	_, err := Iterate(context.Background(), KeyspaceStrategies(migration.CredentialSet{Password: "x"}), func(context.Context, CredentialStrategy) error {
		calls++
		return Stop(boom)
	})
	if !errors.Is(err, boom) || errors.Is(err, migration.ErrAuthExhausted) {
		t.Errorf("expected stop error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestIterate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Iterate(ctx, KeyspaceStrategies(migration.CredentialSet{}), func(context.Context, CredentialStrategy) error {
		t.Error("attempt must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
