package relay

import "context"

// Provider is the uniform contract the router uses to drive an adapter,
// regardless of the wire protocol behind it.
//
// Invoke streams response text into ch as it arrives and returns the final
// accumulated response. Implementations must close ch exactly once, send
// deltas in arrival order, and report usage at most once, after the last
// text delta. On cancellation the adapter must close its underlying
// transport (or kill its child process).
type Provider interface {
	// Name returns the provider identity.
	Name() ProviderID

	// ListModels returns the models the credential can reach. Results are
	// cached by the adapter and refreshed lazily.
	ListModels(ctx context.Context, cred Credential) ([]ModelDescriptor, error)

	// Invoke sends prompt to model and streams the response into ch.
	Invoke(ctx context.Context, cred Credential, model ModelDescriptor, prompt string, opts InvokeOptions, ch chan<- StreamEvent) (InvokeResult, error)

	// ResolveBaseURL returns the endpoint for the credential. Deterministic
	// per credential; may depend on credential claims.
	ResolveBaseURL(cred Credential) string
}

// InvokeResult is the terminal outcome of one adapter invocation.
type InvokeResult struct {
	Text  string
	Usage TokenUsage
}
