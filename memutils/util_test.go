package memutils

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(1, "one"))
	require.NoError(t, CheckPow2(256, "alignment"))
	require.NoError(t, CheckPow2(uint(4096), "page"))

	err := CheckPow2(0, "zero")
	require.Error(t, err)
	require.True(t, errors.Is(err, PowerOfTwoError))

	err = CheckPow2(300, "alignment")
	require.Error(t, err)
	require.True(t, errors.Is(err, PowerOfTwoError))
}

func TestAlign(t *testing.T) {
	testCases := map[string]struct {
		Value     int
		Alignment uint
		Up        int
		Down      int
	}{
		"AlreadyAligned": {Value: 512, Alignment: 256, Up: 512, Down: 512},
		"RoundsUp":       {Value: 513, Alignment: 256, Up: 768, Down: 512},
		"Zero":           {Value: 0, Alignment: 256, Up: 0, Down: 0},
		"NoAlignment":    {Value: 17, Alignment: 1, Up: 17, Down: 17},
		"ZeroAlignment":  {Value: 17, Alignment: 0, Up: 17, Down: 17},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			require.Equal(t, testCase.Up, AlignUp(testCase.Value, testCase.Alignment))
			require.Equal(t, testCase.Down, AlignDown(testCase.Value, testCase.Alignment))
		})
	}
}

func TestRanges(t *testing.T) {
	require.Equal(t, 511, LastByte(0, 512))
	require.Equal(t, 767, LastByte(256, 512))

	require.NoError(t, CheckRange(0, 0, "single byte"))
	require.Error(t, CheckRange(10, 9, "inverted"))
	require.Error(t, CheckRange(-1, 9, "negative"))

	require.True(t, RangesOverlap(0, 511, 256, 767))
	require.True(t, RangesOverlap(200, 300, 0, 1023))
	require.True(t, RangesOverlap(0, 10, 10, 20))
	require.False(t, RangesOverlap(0, 9, 10, 20))
	require.False(t, RangesOverlap(21, 30, 10, 20))
}

func TestDetailedStatistics(t *testing.T) {
	var stats DetailedStatistics
	stats.Clear()

	stats.PageCount = 1
	stats.PageBytes = 1000
	stats.AddPlacement(100)
	stats.AddPlacement(300)
	stats.AddUnusedRange(600)

	require.Equal(t, 2, stats.PlacementCount)
	require.Equal(t, 400, stats.PlacementBytes)
	require.Equal(t, 100, stats.PlacementSizeMin)
	require.Equal(t, 300, stats.PlacementSizeMax)
	require.Equal(t, 600, stats.UnusedBytes())

	var total DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&stats)
	total.AddDetailedStatistics(&stats)

	require.Equal(t, 2, total.PageCount)
	require.Equal(t, 4, total.PlacementCount)
	require.Equal(t, 2, total.UnusedRangeCount)
	require.Equal(t, 600, total.UnusedRangeSizeMin)
}
