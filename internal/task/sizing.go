package task

// Sizing is the expected effort of a task type.
type Sizing struct {
	DurationSeconds int
	Complexity      Complexity
}

// sizingTable is the single source of task sizing. Unknown types use defaultSizing.
var sizingTable = map[string]Sizing{
	"content-annotation": {DurationSeconds: 120, Complexity: ComplexityMedium},
	"feedback":           {DurationSeconds: 60, Complexity: ComplexityLow},
	"technical-labeling": {DurationSeconds: 180, Complexity: ComplexityHigh},
}

var defaultSizing = Sizing{DurationSeconds: 90, Complexity: ComplexityLow}

// SizingFor returns the sizing for taskType.
func SizingFor(taskType string) Sizing {
	if s, ok := sizingTable[taskType]; ok {
		return s
	}
	return defaultSizing
}
