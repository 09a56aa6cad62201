package milestone

// Type discriminates the four predicate shapes the catalog supports.
type Type string

const (
	TypeConcurrentThreshold Type = "concurrent_threshold"
	TypeTimeThreshold       Type = "time_threshold"
	TypeSustained           Type = "sustained"
	TypePeakLeap            Type = "peak_leap"
)

// Definition is one immutable, compiled-in catalog entry.
type Definition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        Type   `json:"type"`
	Threshold   int64  `json:"threshold,omitempty"`
}

// Snapshot is the state the catalog's predicates are evaluated against.
type Snapshot struct {
	ConcurrentConnections int64
	TotalConnectionSeconds int64
	PeakConnections       int64
}

// matches reports whether def's predicate is true against snap. The
// peak-leap predicate is expressed over PeakConnections rather than
// ConcurrentConnections: since PeakConnections only ever increases,
// the exactly-once set_add guard in Engine.Evaluate is what gives it
// "crossed for the first time" semantics, not the predicate itself.
func (def Definition) matches(snap Snapshot) bool {
	switch def.Type {
	case TypeConcurrentThreshold:
		return snap.ConcurrentConnections >= def.Threshold
	case TypeTimeThreshold:
		return snap.TotalConnectionSeconds >= def.Threshold
	case TypeSustained:
		return snap.ConcurrentConnections >= 1000 && snap.TotalConnectionSeconds >= 3600
	case TypePeakLeap:
		return snap.PeakConnections >= def.Threshold
	default:
		return false
	}
}

// concurrentThresholds and timeThresholds are the two scalar ladders
// spec §4.6 requires in full; peakThresholds is the subset used by the
// peak-leap compound.
var concurrentThresholds = []struct {
	n                  int64
	id, name, desc string
}{
	{1, "first_awakening", "First Awakening", "The first soul connects."},
	{10, "ten_souls", "Ten Souls", "Ten souls share this moment."},
	{100, "hundred_strong", "Hundred Strong", "A hundred souls, together."},
	{1_000, "thousand_gathering", "Thousand Gathering", "A thousand souls gather at once."},
	{10_000, "ten_thousand_congregation", "Ten Thousand Congregation", "Ten thousand souls, present together."},
	{100_000, "hundred_thousand_convergence", "Hundred Thousand Convergence", "A hundred thousand souls converge."},
	{1_000_000, "million_souls", "Million Souls", "A million souls, all at once."},
}

var timeThresholds = []struct {
	n                  int64
	id, name, desc string
}{
	{60, "first_minute", "First Minute", "A full minute of shared presence accumulated."},
	{3_600, "first_hour", "First Hour", "An hour of shared presence accumulated."},
	{86_400, "first_day", "First Day", "A day of shared presence accumulated."},
	{604_800, "first_week", "First Week", "A week of shared presence accumulated."},
	{2_592_000, "first_month", "First Month", "A month of shared presence accumulated."},
	{31_536_000, "first_year", "First Year", "A year of shared presence accumulated."},
	{3_153_600_000, "first_century", "First Century", "A century of shared presence accumulated."},
	{31_536_000_000, "first_millennium", "First Millennium", "A millennium of shared presence accumulated."},
}

var peakThresholds = []struct {
	n                  int64
	id, name, desc string
}{
	{10, "peak_10", "New Peak: Ten", "Concurrent presence has peaked past ten."},
	{100, "peak_100", "New Peak: Hundred", "Concurrent presence has peaked past a hundred."},
	{1_000, "peak_1000", "New Peak: Thousand", "Concurrent presence has peaked past a thousand."},
	{10_000, "peak_10000", "New Peak: Ten Thousand", "Concurrent presence has peaked past ten thousand."},
	{100_000, "peak_100000", "New Peak: Hundred Thousand", "Concurrent presence has peaked past a hundred thousand."},
	{1_000_000, "peak_1000000", "New Peak: Million", "Concurrent presence has peaked past a million."},
}

// Catalog builds the full, immutable set of compiled milestones. It is
// safe to call repeatedly and safe to share across goroutines — the
// returned slice is never mutated after construction.
func Catalog() []Definition {
	defs := make([]Definition, 0, len(concurrentThresholds)+len(timeThresholds)+len(peakThresholds)+1)

	for _, t := range concurrentThresholds {
		defs = append(defs, Definition{
			ID: t.id, Name: t.name, Description: t.desc,
			Type: TypeConcurrentThreshold, Threshold: t.n,
		})
	}
	for _, t := range timeThresholds {
		defs = append(defs, Definition{
			ID: t.id, Name: t.name, Description: t.desc,
			Type: TypeTimeThreshold, Threshold: t.n,
		})
	}
	defs = append(defs, Definition{
		ID:          "thousand_hour_vigil",
		Name:        "Thousand-Hour Vigil",
		Description: "A thousand souls held vigil for a full hour.",
		Type:        TypeSustained,
	})
	for _, t := range peakThresholds {
		defs = append(defs, Definition{
			ID: t.id, Name: t.name, Description: t.desc,
			Type: TypePeakLeap, Threshold: t.n,
		})
	}

	return defs
}
