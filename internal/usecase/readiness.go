package usecase

import "context"

// ReadinessCheck represents a single readiness probe result used by handlers.
type ReadinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details"`
}

// Probe is a named dependency check.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// RunReadiness executes the probes in order. Probes with a nil Check are skipped.
func RunReadiness(ctx context.Context, probes ...Probe) (checks []ReadinessCheck, ok bool) {
	ok = true
	checks = make([]ReadinessCheck, 0, len(probes))
	for _, p := range probes {
		if p.Check == nil {
			continue
		}
		if err := p.Check(ctx); err != nil {
			checks = append(checks, ReadinessCheck{Name: p.Name, OK: false, Details: err.Error()})
			ok = false
			continue
		}
		checks = append(checks, ReadinessCheck{Name: p.Name, OK: true})
	}
	return checks, ok
}
