package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"web/geoclusters/cluster"

	"github.com/paulmach/orb"
)

var (
	cpuprofile   = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile   = flag.String("memprofile", "", "write heap profile to file")
	allocprofile = flag.String("allocprofile", "", "write allocation profile to file")
	numMarkers   = flag.Int("markers", 100000, "number of markers to generate")
	maxZoom      = flag.Int("maxzoom", 18, "finest zoom level to build")
	radius       = flag.Int("radius", 80, "max cluster radius in pixels")
	snapshot     = flag.Bool("snapshot", false, "also time encoding and decoding the result")
	testall      = flag.Bool("testall", false, "test all configurations")
)

// Markers are spread over the continental US
var continentalUS = orb.Bound{Min: orb.Point{-125, 25}, Max: orb.Point{-65, 49}}

func buildOnce(markers []cluster.Marker, maxZoom, radius int) (*cluster.Result, time.Duration, float64, uint32) {
	req := &cluster.Request{
		MinZoom:          0,
		MaxZoom:          maxZoom,
		MaxClusterRadius: radius,
		Markers:          markers,
	}

	var memStatsBefore, memStatsAfter runtime.MemStats
	runtime.ReadMemStats(&memStatsBefore)

	start := time.Now()
	res, err := cluster.Build(context.Background(), req, nil)
	duration := time.Since(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		os.Exit(1)
	}

	runtime.ReadMemStats(&memStatsAfter)
	allocMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024
	return res, duration, allocMB, memStatsAfter.NumGC - memStatsBefore.NumGC
}

func runSingleProfile(numMarkers, maxZoom, radius int) {
	fmt.Printf("Profiling with %d markers, zoom 0..%d, radius %dpx\n", numMarkers, maxZoom, radius)

	markers := cluster.GenerateTestMarkers(numMarkers, continentalUS, 42)
	res, duration, allocMB, _ := buildOnce(markers, maxZoom, radius)

	fmt.Printf("Build completed in %v\n", duration)
	fmt.Printf("Tree nodes: %d\n", res.Tree.Len())
	fmt.Printf("Memory allocated: %.2f MB\n", allocMB)

	for _, z := range []int{0, maxZoom / 2, maxZoom} {
		s := cluster.Summarize(z, res.Tree.VisibleAt(z))
		fmt.Printf("Zoom %2d: %d clusters, %d single markers, largest %d\n",
			z, s.NumClusters, s.NumSingleMarkers, s.LargestCluster)
	}

	if *snapshot {
		profileSnapshot(res)
	}
}

func profileSnapshot(res *cluster.Result) {
	var buf bytes.Buffer

	start := time.Now()
	if err := cluster.EncodeResult(&buf, res); err != nil {
		fmt.Fprintf(os.Stderr, "Encode failed: %v\n", err)
		return
	}
	encodeDuration := time.Since(start)
	size := buf.Len()

	start = time.Now()
	if _, err := cluster.DecodeResult(&buf); err != nil {
		fmt.Fprintf(os.Stderr, "Decode failed: %v\n", err)
		return
	}
	decodeDuration := time.Since(start)

	fmt.Printf("Snapshot: %.2f MB compressed, encode %v, decode %v\n",
		float64(size)/1024/1024, encodeDuration, decodeDuration)
}

func runProfileBattery() {
	markerCounts := []int{1000, 10000, 50000, 100000}
	zoomLevels := []int{8, 12, 16, 18}

	fmt.Println("Running comprehensive profile battery...")
	fmt.Println("=======================================")

	// Table header
	fmt.Printf("%-10s | %-10s | %-10s | %-15s | %-10s | %-10s\n",
		"Markers", "Max zoom", "Nodes", "Duration", "Memory (MB)", "GC Runs")
	fmt.Printf("%s\n", "------------------------------------------------------------------------")

	for _, n := range markerCounts {
		markers := cluster.GenerateTestMarkers(n, continentalUS, 42)
		for _, zoom := range zoomLevels {
			res, duration, memMB, gcRuns := buildOnce(markers, zoom, *radius)

			fmt.Printf("%-10d | %-10d | %-10d | %-15s | %-10.2f | %-10d\n",
				n, zoom, res.Tree.Len(), duration, memMB, gcRuns)
		}

		// Add separator between marker counts
		fmt.Printf("%s\n", "------------------------------------------------------------------------")
	}
}

func main() {
	flag.Parse()

	// Set up CPU profiling if requested
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			return
		}
		defer f.Close()

		fmt.Println("Starting CPU profiling...")
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			return
		}
		defer pprof.StopCPUProfile()
	}

	if *maxZoom < 0 || *maxZoom > cluster.MaxZoomLimit {
		fmt.Fprintf(os.Stderr, "maxzoom must be within [0, %d]\n", cluster.MaxZoomLimit)
		return
	}

	// Run tests
	if *testall {
		runProfileBattery()
	} else {
		runSingleProfile(*numMarkers, *maxZoom, *radius)
	}

	writeProfile(*memprofile, "heap")
	writeProfile(*allocprofile, "allocs")
}

// writeProfile dumps the named runtime profile to path, after a GC so heap
// numbers are current. An empty path does nothing.
func writeProfile(path, name string) {
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create %s profile: %v\n", name, err)
		return
	}
	defer f.Close()

	runtime.GC()
	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		fmt.Fprintf(os.Stderr, "Could not write %s profile: %v\n", name, err)
	}
}
