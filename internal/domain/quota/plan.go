package quota

// Plan is an owner's subscription tier.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
	PlanTeam Plan = "team"
)

// Limits are the resource ceilings a plan grants.
type Limits struct {
	MaxStorageBytes int64 `json:"maxStorage"`
	MaxBundleBytes  int64 `json:"maxBundleSize"`
	MaxRuns         int64 `json:"maxRuns"`
}

const mib = int64(1024 * 1024)

// Limits returns the ceilings for the plan. Unknown plans get free limits.
func (p Plan) Limits() Limits {
	switch p {
	case PlanPro:
		return Limits{
			MaxStorageBytes: 2048 * mib,
			MaxBundleBytes:  50 * mib,
			MaxRuns:         100000,
		}
	case PlanTeam:
		return Limits{
			MaxStorageBytes: 10240 * mib,
			MaxBundleBytes:  100 * mib,
			MaxRuns:         1000000,
		}
	default:
		return Limits{
			MaxStorageBytes: 256 * mib,
			MaxBundleBytes:  20 * mib,
			MaxRuns:         10000,
		}
	}
}

// Valid reports whether the plan is a known tier.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanTeam:
		return true
	}
	return false
}
