package keypool

import "github.com/nullbridge/llmgate/pkg/apierr"

// ErrNoKeyAvailable is returned by Acquire when no key became Active within
// the caller's deadline.
var ErrNoKeyAvailable = apierr.New(apierr.KindNoKeyAvailable, "no upstream key available within acquire timeout")

// ErrKeyInUse is returned by Delete when the identified key is currently
// Leased (spec §4.2 "rejected if currently Leased").
var ErrKeyInUse = apierr.New(apierr.KindInternal, "key is currently in use")

// ErrUnknownKey is returned by Delete/Reset for an identifier not in the pool.
var ErrUnknownKey = apierr.New(apierr.KindInternal, "unknown key identifier")
