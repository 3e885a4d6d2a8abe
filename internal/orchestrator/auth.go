package orchestrator

import (
	"context"

	"github.com/nullbridge/llmgate/internal/store"
	"github.com/nullbridge/llmgate/pkg/apierr"
)

// authenticate resolves the AuthPrincipal for a presented credential,
// consulting the Store's read-only principal view. An unknown or inactive
// principal is rejected before any lease is acquired (spec §4.6 step 1,
// matching original_source/backend/app/services/auth_service.py's
// "inactive key ⇒ reject before touching providers").
func (o *Orchestrator) authenticate(ctx context.Context, apiKey string) (*store.Principal, *apierr.Error) {
	if apiKey == "" {
		return nil, apierr.New(apierr.KindPrincipalRejected, "missing credential")
	}
	p, err := o.st.GetPrincipal(ctx, apiKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "resolve principal", err)
	}
	if p == nil || !p.Active {
		return nil, apierr.New(apierr.KindPrincipalRejected, "unknown or inactive credential")
	}
	return p, nil
}
