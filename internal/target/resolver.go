package target

import (
	"context"

	"adbfleet/internal/lg"
)

// PackageLister reports the full installed-package listing for one device,
// in the order the device reports it.
type PackageLister interface {
	InstalledPackages(ctx context.Context, device string) ([]string, error)
}

// Resolver turns a Spec into concrete package names on one device.
type Resolver struct {
	lister PackageLister
}

func NewResolver(lister PackageLister) *Resolver {
	return &Resolver{lister: lister}
}

// Resolve returns the packages spec selects on device, in listing order.
// An exact spec resolves to itself without querying the device; downstream
// operations fail naturally if the package is not installed.
func (r *Resolver) Resolve(ctx context.Context, device string, spec Spec) ([]string, error) {
	if !spec.Valid() {
		return nil, ErrInvalidSpec
	}
	if spec.IsExact() {
		return []string{spec.Package()}, nil
	}

	installed, err := r.lister.InstalledPackages(ctx, device)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, pkg := range installed {
		if spec.pattern.MatchString(pkg) {
			matches = append(matches, pkg)
		}
	}
	return matches, nil
}

// Policy governs ambiguous resolutions.
type Policy struct {
	// Force lets an operation proceed against every pattern match instead
	// of skipping on ambiguity. It is a safety rail for destructive
	// fan-out; exact specs never need it.
	Force bool
}

// Decision is the outcome of applying a Policy to a resolution.
type Decision int

const (
	Skip Decision = iota
	ProceedAll
)

// Decide applies policy to matches resolved on device. Skips are warnings,
// not errors: an empty resolution, or an ambiguous one without Force, skip
// the device.
func Decide(ctx context.Context, device string, spec Spec, matches []string, policy Policy) Decision {
	logger := lg.FromContext(ctx)
	switch {
	case len(matches) == 0:
		logger.Warn("nothing found for pattern",
			lg.String("pattern", spec.String()), lg.String("device", device))
		return Skip
	case len(matches) > 1 && !policy.Force:
		logger.Warn("multiple packages found for pattern, use force to proceed",
			lg.String("pattern", spec.String()), lg.String("device", device),
			lg.Strings("matches", matches))
		return Skip
	default:
		return ProceedAll
	}
}
