// Package version turns a node's version list into the options a user picks
// from, with a leading "auto latest" entry that is resolved by the daemon at
// dispatch time instead of being pinned now.
package version

import (
	"fmt"

	"github.com/flo-mic/spidergroup/internal/inventory"
)

// Sentinel is the reserved id of the auto-latest option.
const Sentinel = inventory.LatestVersion

const (
	autoLatestLabel   = "auto-latest"
	noVersionsLabel   = autoLatestLabel + " [no versions available]"
	latestLabelFormat = autoLatestLabel + " [%s]"
)

// Resolution is the version field as presented to the user.
type Resolution struct {
	Options []inventory.Option
	Default string
}

// Resolve builds the version options from an inventory list ordered most
// recent first. The sentinel always comes first and is the default.
func Resolve(versions []inventory.Option) (Resolution, error) {
	if err := validate(versions); err != nil {
		return Resolution{}, err
	}

	if len(versions) == 0 {
		return Resolution{
			Options: []inventory.Option{{ID: Sentinel, Label: noVersionsLabel, Disabled: true}},
			Default: Sentinel,
		}, nil
	}

	opts := make([]inventory.Option, 0, len(versions)+1)
	opts = append(opts, inventory.Option{ID: Sentinel, Label: fmt.Sprintf(latestLabelFormat, versions[0].Label)})
	opts = append(opts, versions...)
	return Resolution{Options: opts, Default: Sentinel}, nil
}

// Effective returns the version id listSpiders must be called with for a
// selected option. The sentinel stays the sentinel: the label of the
// auto-latest option is a hint, never a binding.
func Effective(selected string) string {
	return selected
}

// IsSentinel reports whether id defers to the daemon's latest version.
func IsSentinel(id string) bool {
	return id == Sentinel
}

func validate(versions []inventory.Option) error {
	seen := make(map[string]bool, len(versions))
	for i, v := range versions {
		switch {
		case v.ID == Sentinel:
			return fmt.Errorf("%w: version %d uses the reserved id %q", inventory.ErrContractViolation, i, Sentinel)
		case v.ID == "":
			return fmt.Errorf("%w: version %d has an empty id", inventory.ErrContractViolation, i)
		case seen[v.ID]:
			return fmt.Errorf("%w: duplicate version id %q", inventory.ErrContractViolation, v.ID)
		}
		seen[v.ID] = true
	}
	return nil
}
