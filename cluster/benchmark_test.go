package cluster

import (
	"bytes"
	"context"
	"runtime"
	"testing"
)

// benchmarkBuild runs a full build over numPoints markers spread over the US
func benchmarkBuild(b *testing.B, numPoints int, maxZoom int) {
	req := &Request{
		MinZoom:          0,
		MaxZoom:          maxZoom,
		MaxClusterRadius: 80,
		// Use deterministic seed for reproducibility
		Markers: GenerateTestMarkers(numPoints, continentalUS, 42),
	}
	project := MercatorProjector(DefaultTileSize)

	// Track memory usage before and after
	var memStatsBefore, memStatsAfter runtime.MemStats
	runtime.ReadMemStats(&memStatsBefore)

	b.ResetTimer()

	var nodes int
	for i := 0; i < b.N; i++ {
		res, err := Build(context.Background(), req, project)
		if err != nil {
			b.Fatal(err)
		}
		nodes = res.Tree.Len()
	}

	b.StopTimer()

	runtime.ReadMemStats(&memStatsAfter)
	allocMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024 / float64(b.N)

	b.ReportMetric(allocMB, "MB/op")
	b.ReportMetric(float64(nodes), "nodes")
}

func BenchmarkBuildSmall_LowZoom(b *testing.B) {
	benchmarkBuild(b, 1000, 8)
}

func BenchmarkBuildSmall_HighZoom(b *testing.B) {
	benchmarkBuild(b, 1000, 18)
}

func BenchmarkBuildMedium_LowZoom(b *testing.B) {
	benchmarkBuild(b, 10000, 8)
}

func BenchmarkBuildMedium_HighZoom(b *testing.B) {
	benchmarkBuild(b, 10000, 18)
}

func BenchmarkBuildLarge_HighZoom(b *testing.B) {
	benchmarkBuild(b, 100000, 18)
}

func BenchmarkSnapshotEncode(b *testing.B) {
	res, err := Build(context.Background(), &Request{
		MinZoom:          0,
		MaxZoom:          18,
		MaxClusterRadius: 80,
		Markers:          GenerateTestMarkers(10000, continentalUS, 42),
	}, nil)
	if err != nil {
		b.Fatal(err)
	}

	var buf bytes.Buffer
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := EncodeResult(&buf, res); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportMetric(float64(buf.Len())/1024, "KB")
}

func BenchmarkGridNearest(b *testing.B) {
	markers := GenerateTestMarkers(50000, continentalUS, 42)
	project := MercatorProjector(DefaultTileSize)
	g := NewGrid[int](80)
	for i, m := range markers {
		g.Insert(i, project(m.Point, 10))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.Nearest(project(markers[i%len(markers)].Point, 10))
	}
}
