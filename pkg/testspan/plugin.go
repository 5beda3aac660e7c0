// Plugin registration metadata: which runner module an adapter patches and for which versions
package testspan

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Plugin describes the runner module an adapter instruments.
type Plugin struct {
	Name string
	// Versions are alternatives; a version is supported when any one matches.
	// Each entry is a space-separated conjunction of comparisons such as ">=24.8.0 <27".
	Versions []string
	// File is the module-relative file patched, when it is not the module entry point.
	File string
}

// Supports reports whether version satisfies one of p.Versions.
func (p Plugin) Supports(version string) (bool, error) {
	v := canonical(version)
	if !semver.IsValid(v) {
		return false, fmt.Errorf("plugin %s: invalid version %q", p.Name, version)
	}
	for _, rng := range p.Versions {
		ok, err := satisfies(v, rng)
		if err != nil {
			return false, fmt.Errorf("plugin %s: %w", p.Name, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func satisfies(v, rng string) (bool, error) {
	fields := strings.Fields(rng)
	if len(fields) == 0 {
		return false, fmt.Errorf("empty version range")
	}
	for _, f := range fields {
		op, bound := splitOp(f)
		b := canonical(bound)
		if !semver.IsValid(b) {
			return false, fmt.Errorf("invalid version range %q", rng)
		}
		c := semver.Compare(v, b)
		var ok bool
		switch op {
		case ">=":
			ok = c >= 0
		case ">":
			ok = c > 0
		case "<=":
			ok = c <= 0
		case "<":
			ok = c < 0
		default:
			ok = c == 0
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func splitOp(s string) (op, rest string) {
	for _, op := range []string{">=", "<=", ">", "<", "="} {
		if strings.HasPrefix(s, op) {
			return op, s[len(op):]
		}
	}
	return "=", s
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
