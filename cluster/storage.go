package cluster

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"
)

const (
	snapshotMagic   uint32 = 0x47434c53 // "GCLS"
	snapshotVersion uint16 = 1

	// sanity limits applied while decoding so a corrupt header cannot make us
	// allocate unbounded memory
	maxSnapshotMarkers = 1 << 26
	maxSnapshotNodes   = 1 << 27
)

var ErrCorruptSnapshot = errors.New("corrupt cluster snapshot")

type binWriter struct {
	w   io.Writer
	err error
}

func (b *binWriter) put(v any) {
	if b.err != nil {
		return
	}
	b.err = binary.Write(b.w, binary.LittleEndian, v)
}

func (b *binWriter) point(p Point) {
	b.put(p.Latitude)
	b.put(p.Longitude)
}

func (b *binWriter) grid(g *Grid[NodeID]) {
	b.put(uint32(g.Len()))
	g.Each(func(id NodeID, p orb.Point) {
		b.put(int32(id))
		b.put(p[0])
		b.put(p[1])
	})
}

type binReader struct {
	r   io.Reader
	err error
}

func (b *binReader) get(v any) {
	if b.err != nil {
		return
	}
	b.err = binary.Read(b.r, binary.LittleEndian, v)
}

func (b *binReader) f64() float64 {
	var v float64
	b.get(&v)
	return v
}

func (b *binReader) i32() int32 {
	var v int32
	b.get(&v)
	return v
}

func (b *binReader) u32() uint32 {
	var v uint32
	b.get(&v)
	return v
}

func (b *binReader) point() Point {
	return Point{Latitude: b.f64(), Longitude: b.f64()}
}

func (b *binReader) grid(cellSize float64, nodes int) *Grid[NodeID] {
	g := NewGrid[NodeID](cellSize)
	n := b.u32()
	if b.err == nil && int(n) > nodes {
		b.err = fmt.Errorf("%w: grid holds %d entries for %d nodes", ErrCorruptSnapshot, n, nodes)
	}
	for i := uint32(0); i < n && b.err == nil; i++ {
		id := b.i32()
		x, y := b.f64(), b.f64()
		if b.err == nil && (id < 0 || int(id) >= nodes) {
			b.err = fmt.Errorf("%w: grid entry %d out of range", ErrCorruptSnapshot, id)
		}
		g.Insert(NodeID(id), orb.Point{x, y})
	}
	return g
}

// EncodeResult writes r as a zstd-compressed little-endian stream.
func EncodeResult(w io.Writer, r *Result) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	b := &binWriter{w: enc}
	t := r.Tree

	// Header and request parameters
	b.put(snapshotMagic)
	b.put(snapshotVersion)
	b.put(int32(r.MinZoom))
	b.put(int32(r.MaxZoom))
	b.put(r.Zoom)
	b.put(int32(r.MaxClusterRadius))

	// Markers
	b.put(uint32(len(t.Markers)))
	for _, m := range t.Markers {
		b.point(m.Point)
		b.put(m.Width)
		b.put(m.Height)
		b.put(m.Anchor.Left)
		b.put(m.Anchor.Top)
	}

	// Nodes
	b.put(uint32(len(t.Nodes)))
	for i := range t.Nodes {
		n := &t.Nodes[i]
		b.put(uint8(n.Kind))
		b.put(int32(n.Zoom))
		b.put(int32(n.Parent))
		b.put(int32(n.Marker))
		b.point(n.Center)
		b.point(n.Centroid)
		b.put(n.Bounds.Min[0])
		b.put(n.Bounds.Min[1])
		b.put(n.Bounds.Max[0])
		b.put(n.Bounds.Max[1])
		b.put(uint32(n.Count))
		b.put(uint32(len(n.Children)))
		for _, c := range n.Children {
			b.put(int32(c))
		}
	}
	b.put(int32(t.Root))

	// Grids, cluster then unclustered per level
	b.put(uint32(len(r.levels.clusters)))
	for i := range r.levels.clusters {
		b.grid(r.levels.clusters[i])
		b.grid(r.levels.unclustered[i])
	}

	if b.err != nil {
		enc.Close()
		return fmt.Errorf("failed to encode snapshot: %w", b.err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	return nil
}

// DecodeResult reads a stream written by EncodeResult.
func DecodeResult(rd io.Reader) (*Result, error) {
	dec, err := zstd.NewReader(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	b := &binReader{r: dec}

	var (
		magic   uint32
		version uint16
	)
	b.get(&magic)
	b.get(&version)
	if b.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, b.err)
	}
	if magic != snapshotMagic || version != snapshotVersion {
		return nil, fmt.Errorf("%w: bad header %#x v%d", ErrCorruptSnapshot, magic, version)
	}

	r := &Result{
		MinZoom:          int(b.i32()),
		MaxZoom:          int(b.i32()),
		Zoom:             b.f64(),
		MaxClusterRadius: int(b.i32()),
	}

	numMarkers := b.u32()
	if numMarkers > maxSnapshotMarkers {
		return nil, fmt.Errorf("%w: %d markers", ErrCorruptSnapshot, numMarkers)
	}
	markers := make([]Marker, 0, numMarkers)
	for i := uint32(0); i < numMarkers && b.err == nil; i++ {
		var m Marker
		m.Point = b.point()
		m.Width = b.f64()
		m.Height = b.f64()
		m.Anchor.Left = b.f64()
		m.Anchor.Top = b.f64()
		markers = append(markers, m)
	}

	numNodes := b.u32()
	if numNodes > maxSnapshotNodes {
		return nil, fmt.Errorf("%w: %d nodes", ErrCorruptSnapshot, numNodes)
	}
	t := &Tree{
		MinZoom: r.MinZoom,
		MaxZoom: r.MaxZoom,
		Markers: markers,
		Nodes:   make([]Node, 0, numNodes),
	}
	for i := uint32(0); i < numNodes && b.err == nil; i++ {
		var kind uint8
		b.get(&kind)
		n := Node{
			ID:     NodeID(i),
			Kind:   NodeKind(kind),
			Zoom:   int(b.i32()),
			Parent: NodeID(b.i32()),
			Marker: int(b.i32()),
		}
		n.Center = b.point()
		n.Centroid = b.point()
		n.Bounds.Min = orb.Point{b.f64(), b.f64()}
		n.Bounds.Max = orb.Point{b.f64(), b.f64()}
		n.Count = int(b.u32())

		numChildren := b.u32()
		if b.err == nil && numChildren > numNodes {
			return nil, fmt.Errorf("%w: node %d has %d children", ErrCorruptSnapshot, i, numChildren)
		}
		if numChildren > 0 {
			n.Children = make([]NodeID, numChildren)
			for j := range n.Children {
				n.Children[j] = NodeID(b.i32())
			}
		}
		t.Nodes = append(t.Nodes, n)
	}
	t.Root = NodeID(b.i32())
	r.Tree = t

	numLevels := b.u32()
	if b.err == nil && int(numLevels) != (&Request{MinZoom: r.MinZoom, MaxZoom: r.MaxZoom}).Levels() {
		return nil, fmt.Errorf("%w: %d grid levels for zooms %d..%d", ErrCorruptSnapshot, numLevels, r.MinZoom, r.MaxZoom)
	}
	r.levels = levels{minZoom: r.MinZoom}
	cellSize := float64(r.MaxClusterRadius)
	for i := uint32(0); i < numLevels && b.err == nil; i++ {
		r.levels.clusters = append(r.levels.clusters, b.grid(cellSize, len(t.Nodes)))
		r.levels.unclustered = append(r.levels.unclustered, b.grid(cellSize, len(t.Nodes)))
	}

	if b.err != nil {
		if errors.Is(b.err, ErrCorruptSnapshot) {
			return nil, b.err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, b.err)
	}
	if err := t.check(); err != nil {
		return nil, err
	}
	return r, nil
}

// check verifies handles and the parent/child links of a decoded tree.
func (t *Tree) check() error {
	n := NodeID(len(t.Nodes))
	if t.Root < 0 || t.Root >= n {
		return fmt.Errorf("%w: root %d out of range", ErrCorruptSnapshot, t.Root)
	}
	for i := range t.Nodes {
		node := &t.Nodes[i]
		if node.Kind == KindMarker && (node.Marker < 0 || node.Marker >= len(t.Markers)) {
			return fmt.Errorf("%w: node %d links marker %d", ErrCorruptSnapshot, i, node.Marker)
		}
		if node.ID != t.Root && (node.Parent < 0 || node.Parent >= n) {
			return fmt.Errorf("%w: node %d has parent %d", ErrCorruptSnapshot, i, node.Parent)
		}
		for _, c := range node.Children {
			if c < 0 || c >= n || t.Nodes[c].Parent != node.ID {
				return fmt.Errorf("%w: node %d has bad child %d", ErrCorruptSnapshot, i, c)
			}
		}
	}
	return nil
}

// SaveSnapshot writes r to path. The file is written next to path first and
// renamed into place so readers never see a partial snapshot.
func SaveSnapshot(path string, r *Result) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	if err := EncodeResult(bufWriter, r); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := bufWriter.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Clean(path)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot through a buffered file reader.
func LoadSnapshot(path string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return DecodeResult(bufio.NewReaderSize(file, 1024*1024))
}
