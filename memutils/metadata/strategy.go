package metadata

// AllocationStrategy exposes several options for choosing the location of a new placement.
// If none is chosen, AllocationStrategyMinOffset is used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory selects the smallest free region that can hold the placement,
	// keeping large regions intact for large resources
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime selects the first free region that can hold the placement
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset selects the free region with the lowest offset that can hold the
	// placement. Regions are kept in offset order, so this is the same region AllocationStrategyMinTime
	// selects.
	AllocationStrategyMinOffset
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategyMinMemory: "AllocationStrategyMinMemory",
	AllocationStrategyMinTime:   "AllocationStrategyMinTime",
	AllocationStrategyMinOffset: "AllocationStrategyMinOffset",
}

func (s AllocationStrategy) String() string {
	str, ok := allocationStrategyMapping[s]
	if !ok {
		return "AllocationStrategyDefault"
	}
	return str
}
