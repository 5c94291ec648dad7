package tree

import (
	"errors"
	"fmt"

	"github.com/elysia-go/elysiatree/internal/decision"
)

// Sentinel error kinds (§7). Wrapped via fmt.Errorf("%w: ...") so
// errors.Is/errors.As work against the kind, not the specific message.
var (
	ErrConfiguration     = errors.New("tree: configuration error")
	ErrNoToolsAvailable  = decision.ErrNoToolsAvailable
	ErrStoreAuth         = errors.New("tree: store authentication error")
	ErrStoreQuery        = errors.New("tree: store query error")
	ErrToolInvocation    = errors.New("tree: tool invocation error")
	ErrImpossibleOutcome = errors.New("tree: impossible outcome")
	ErrRecursionLimit    = errors.New("tree: recursion limit exhausted")
)

func wrapConfiguration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func wrapToolInvocation(toolName string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrToolInvocation, toolName, err)
}
