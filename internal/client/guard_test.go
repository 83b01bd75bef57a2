package client

import (
	"testing"

	"brightcart/internal/models"
)

func TestGuardDecisions(t *testing.T) {
	admin := models.User{ID: "u1", Roles: []string{"admin"}}
	customer := models.User{ID: "u2", Roles: []string{"customer"}}

	cases := []struct {
		name         string
		state        AuthState
		requiredRole string
		want         DecisionKind
	}{
		{
			name:  "loading defers regardless of auth",
			state: AuthState{Loading: true},
			want:  DecisionPending,
		},
		{
			name:         "loading defers even when authenticated",
			state:        AuthState{Loading: true, Authenticated: true, User: admin},
			requiredRole: "admin",
			want:         DecisionPending,
		},
		{
			name:  "unauthenticated redirects",
			state: AuthState{},
			want:  DecisionRedirect,
		},
		{
			name:  "authenticated without role requirement allows",
			state: AuthState{Authenticated: true, User: customer},
			want:  DecisionAllow,
		},
		{
			name:         "matching role allows",
			state:        AuthState{Authenticated: true, User: admin},
			requiredRole: "admin",
			want:         DecisionAllow,
		},
		{
			name:         "wrong role redirects",
			state:        AuthState{Authenticated: true, User: customer},
			requiredRole: "admin",
			want:         DecisionRedirect,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Guard(tc.state, tc.requiredRole)
			if decision.Kind != tc.want {
				t.Fatalf("Guard() kind = %v, want %v", decision.Kind, tc.want)
			}
			if tc.want == DecisionRedirect {
				if decision.Target != "/login" {
					t.Fatalf("expected /login redirect target, got %q", decision.Target)
				}
				if !decision.ReplaceHistory {
					t.Fatal("expected redirect to replace history")
				}
			}
		})
	}
}

func TestStateFromStore(t *testing.T) {
	store := NewMemoryStore()

	state := StateFromStore(store)
	if state.Authenticated {
		t.Fatal("empty store must not authenticate")
	}

	store.SetToken("tok-1")
	if StateFromStore(store).Authenticated {
		t.Fatal("token without profile must not authenticate")
	}

	store.SetProfile(models.User{ID: "u1", Roles: []string{"admin"}})
	state = StateFromStore(store)
	if !state.Authenticated || !state.User.HasRole("admin") {
		t.Fatalf("expected authenticated admin state, got %+v", state)
	}

	store.Clear()
	if StateFromStore(store).Authenticated {
		t.Fatal("cleared store must not authenticate")
	}
}
