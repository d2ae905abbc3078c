package framegraph

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/framegraph/memutils"
)

func printStatistics(json *jwriter.ObjectState, stats *memutils.Statistics) {
	json.Name("PageCount").Int(stats.PageCount)
	json.Name("PlacementCount").Int(stats.PlacementCount)
	json.Name("PageBytes").Int(stats.PageBytes)
	json.Name("PlacementBytes").Int(stats.PlacementBytes)
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	printStatistics(json, &stats.Statistics)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.PlacementCount > 0 {
		sizes := json.Name("PlacementSize").Object()
		sizes.Name("Min").Int(stats.PlacementSizeMin)
		sizes.Name("Max").Int(stats.PlacementSizeMax)
		sizes.End()
	}

	if stats.UnusedRangeCount > 0 {
		sizes := json.Name("UnusedRangeSize").Object()
		sizes.Name("Min").Int(stats.UnusedRangeSizeMin)
		sizes.Name("Max").Int(stats.UnusedRangeSizeMax)
		sizes.End()
	}
}

// BuildStatsString returns a JSON document describing the graph's heap pages. With detailedMap,
// every page's placements are included.
func (g *FrameGraph) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	root := writer.Object()

	frame := root.Name("Frame").Object()
	culledPasses, culledResources := g.culledCounts()
	frame.Name("Compiled").Bool(g.compiled)
	frame.Name("Passes").Int(len(g.passes))
	frame.Name("Resources").Int(len(g.resources))
	if g.compiled {
		frame.Name("CulledPasses").Int(culledPasses)
		frame.Name("CulledResources").Int(culledResources)
	}
	frame.End()

	var total memutils.DetailedStatistics
	total.Clear()
	g.transientSystem.AddDetailedStatistics(&total)

	totalObj := root.Name("Total").Object()
	printDetailedStatistics(&totalObj, &total)
	totalObj.End()

	if detailedMap {
		detailed := root.Name("DetailedMap").Object()
		g.transientSystem.PrintDetailedMap(&detailed)
		detailed.End()
	}

	root.End()
	return string(writer.Bytes())
}
