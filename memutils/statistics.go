package memutils

import "math"

// Statistics sums up the pages owned by a transient allocator and the placements currently
// live inside of them
type Statistics struct {
	PageCount      int
	PlacementCount int
	PageBytes      int
	PlacementBytes int
}

func (s *Statistics) Clear() {
	s.PageCount = 0
	s.PlacementCount = 0
	s.PageBytes = 0
	s.PlacementBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.PageCount += other.PageCount
	s.PlacementCount += other.PlacementCount
	s.PageBytes += other.PageBytes
	s.PlacementBytes += other.PlacementBytes
}

// UnusedBytes is the number of page bytes not covered by a live placement
func (s *Statistics) UnusedBytes() int {
	return s.PageBytes - s.PlacementBytes
}

type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	PlacementSizeMin   int
	PlacementSizeMax   int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.PlacementSizeMin = math.MaxInt
	s.PlacementSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddPlacement(size int) {
	s.PlacementCount++
	s.PlacementBytes += size

	if size < s.PlacementSizeMin {
		s.PlacementSizeMin = size
	}

	if size > s.PlacementSizeMax {
		s.PlacementSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount

	if other.UnusedRangeSizeMin < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}

	if other.UnusedRangeSizeMax > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}

	if other.PlacementSizeMin < s.PlacementSizeMin {
		s.PlacementSizeMin = other.PlacementSizeMin
	}

	if other.PlacementSizeMax > s.PlacementSizeMax {
		s.PlacementSizeMax = other.PlacementSizeMax
	}
}
