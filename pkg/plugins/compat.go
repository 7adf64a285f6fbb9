package plugins

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// IsCompatRange returns true if the string is a SemVer range constraint
// (e.g. "^1.0.0", "~1.2", ">=1.0.0, <2.0.0") rather than an exact version.
func IsCompatRange(constraint string) bool {
	if constraint == "" {
		return false
	}
	return strings.ContainsAny(constraint, "^~><!=, ")
}

// CompatibleWith reports whether hostVersion satisfies the given constraint.
// An exact version is treated as an equality constraint. The empty
// constraint is satisfied by every host version.
func CompatibleWith(constraint, hostVersion string) (bool, error) {
	if constraint == "" {
		return true, nil
	}

	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return false, fmt.Errorf("invalid host version %q: %w", hostVersion, err)
	}

	if !IsCompatRange(constraint) {
		exact, err := semver.NewVersion(constraint)
		if err != nil {
			return false, fmt.Errorf("invalid compat version %q: %w", constraint, err)
		}
		return v.Equal(exact), nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid compat constraint %q: %w", constraint, err)
	}
	return c.Check(v), nil
}
