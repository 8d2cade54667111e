package titxt

// Packed layout sizes used by Footprint.
const (
	HeaderSize        = 4 // segment count
	SegmentHeaderSize = 8 // address + size
	SegmentAlign      = 8
)

// Segment is a contiguous block of firmware bytes starting at Address.
type Segment struct {
	Address uint32
	Data    []byte
}

// Size returns the number of data bytes.
func (s Segment) Size() int {
	return len(s.Data)
}

// End returns the address following the last byte of the segment.
func (s Segment) End() uint32 {
	return s.Address + uint32(len(s.Data)) //nolint:gosec // bounded by the image capacity
}

// footprint returns the packed size of the segment including its header.
func (s Segment) footprint() int {
	return segmentFootprint(len(s.Data))
}

func segmentFootprint(size int) int {
	return SegmentHeaderSize + alignUp(size, SegmentAlign)
}

func alignUp(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

// Image is an ordered list of segments.
type Image struct {
	Segments []Segment
}

// Count returns the number of segments.
func (img *Image) Count() int {
	return len(img.Segments)
}

// Size returns the total number of data bytes over all segments.
func (img *Image) Size() int {
	n := 0
	for _, s := range img.Segments {
		n += s.Size()
	}

	return n
}

// Footprint returns the packed size of the image.
func (img *Image) Footprint() int {
	n := HeaderSize
	for _, s := range img.Segments {
		n += s.footprint()
	}

	return n
}
