package domain

// Role classifies a contact by its static membership in the configured
// source/target lists. A role is computed once per message at ingestion
// and never recomputed.
type Role int

const (
	RoleUnknown Role = iota
	RoleSource
	RoleTarget
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleTarget:
		return "target"
	default:
		return "unknown"
	}
}

// Roles resolves contact names to roles from the static membership lists.
// Membership is validated at config load time: a name may not appear in
// both lists.
type Roles struct {
	sources   []string
	targets   []string
	sourceSet map[string]bool
	targetSet map[string]bool
}

// NewRoles builds the role lookup from the configured contact lists,
// preserving list order (monitor staggering depends on it).
func NewRoles(sources, targets []string) *Roles {
	r := &Roles{
		sources:   append([]string(nil), sources...),
		targets:   append([]string(nil), targets...),
		sourceSet: make(map[string]bool, len(sources)),
		targetSet: make(map[string]bool, len(targets)),
	}
	for _, name := range sources {
		r.sourceSet[name] = true
	}
	for _, name := range targets {
		r.targetSet[name] = true
	}
	return r
}

// Resolve returns the role for a contact name. Names in neither list are
// RoleUnknown; they still flow through the queue so that policy, not
// ingestion, decides their disposition.
func (r *Roles) Resolve(name string) Role {
	if r.sourceSet[name] {
		return RoleSource
	}
	if r.targetSet[name] {
		return RoleTarget
	}
	return RoleUnknown
}

// Sources returns the configured source contact names in config order.
func (r *Roles) Sources() []string {
	return append([]string(nil), r.sources...)
}

// Targets returns the configured target contact names in config order.
func (r *Roles) Targets() []string {
	return append([]string(nil), r.targets...)
}
