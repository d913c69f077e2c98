package inventory

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailableNode means the node's daemon could not be reached.
	ErrUnavailableNode = errors.New("node unavailable")

	// ErrUnknownNode means the node id is not in the registry. It wraps
	// ErrUnavailableNode.
	ErrUnknownNode = fmt.Errorf("unknown node: %w", ErrUnavailableNode)

	// ErrUnknownProject means the project vanished from the node between
	// resolution steps.
	ErrUnknownProject = errors.New("unknown project")

	// ErrUnknownVersion means the resolved version no longer exists on the
	// node, typically because of a redeployment.
	ErrUnknownVersion = errors.New("unknown version")

	// ErrContractViolation means the inventory returned data that breaks
	// the option contract, such as a real version with the sentinel id.
	ErrContractViolation = errors.New("inventory contract violation")
)

// Recoverable reports whether err should surface as "no options available"
// plus a notice rather than a hard error.
func Recoverable(err error) bool {
	return errors.Is(err, ErrUnavailableNode) ||
		errors.Is(err, ErrUnknownProject) ||
		errors.Is(err, ErrUnknownVersion)
}

// Kind names the error category for notices and metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrContractViolation):
		return "contract_violation"
	case errors.Is(err, ErrUnavailableNode):
		return "unavailable_node"
	case errors.Is(err, ErrUnknownProject):
		return "unknown_project"
	case errors.Is(err, ErrUnknownVersion):
		return "unknown_version"
	default:
		return "other"
	}
}
