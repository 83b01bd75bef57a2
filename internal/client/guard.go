package client

import "brightcart/internal/models"

// AuthState is the authentication snapshot the route guard decides on.
// Loading means session resolution is still in flight and no access
// decision may be made yet.
type AuthState struct {
	Loading       bool
	Authenticated bool
	User          models.User
}

// DecisionKind classifies a guard outcome.
type DecisionKind int

const (
	// DecisionPending means the caller should render a placeholder: auth
	// state is unresolved and neither allowing nor redirecting is safe.
	DecisionPending DecisionKind = iota
	// DecisionAllow admits the caller to the guarded view.
	DecisionAllow
	// DecisionRedirect sends the caller to Target instead.
	DecisionRedirect
)

// Decision is the route guard's verdict for one admission check.
type Decision struct {
	Kind   DecisionKind
	Target string
	// ReplaceHistory tells the navigator to replace the current history
	// entry so back-navigation cannot return to the guarded page.
	ReplaceHistory bool
}

// Guard decides whether the current auth state admits a view that requires
// requiredRole (empty means any authenticated user). A loading state always
// yields DecisionPending: redirecting before the session resolves would
// bounce signed-in users to the login page on every refresh.
func Guard(state AuthState, requiredRole string) Decision {
	if state.Loading {
		return Decision{Kind: DecisionPending}
	}
	if !state.Authenticated {
		return loginRedirect()
	}
	if requiredRole != "" && !state.User.HasRole(requiredRole) {
		return loginRedirect()
	}
	return Decision{Kind: DecisionAllow}
}

// StateFromStore derives a resolved AuthState from stored credentials: the
// session counts as authenticated only when both a token and a cached
// profile are present.
func StateFromStore(store CredentialStore) AuthState {
	if store == nil {
		return AuthState{}
	}
	_, hasToken := store.Token()
	profile, hasProfile := store.Profile()
	return AuthState{
		Authenticated: hasToken && hasProfile,
		User:          profile,
	}
}

func loginRedirect() Decision {
	return Decision{Kind: DecisionRedirect, Target: "/login", ReplaceHistory: true}
}
