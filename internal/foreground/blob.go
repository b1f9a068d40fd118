package foreground

// BlobFinder measures connected foreground regions in a binary mask. It
// keeps its scratch buffers between frames.
type BlobFinder struct {
	width   int
	height  int
	visited []bool
	stack   []int32
}

// NewBlobFinder creates a finder for masks of the given size
func NewBlobFinder(width, height int) *BlobFinder {
	return &BlobFinder{
		width:   width,
		height:  height,
		visited: make([]bool, width*height),
		stack:   make([]int32, 0, 1024),
	}
}

// LargestArea returns the pixel count of the largest 8-connected region of
// non-zero cells in mask, or 0 when the mask is empty.
func (b *BlobFinder) LargestArea(mask []uint8) int {
	clear(b.visited)
	w, h := b.width, b.height
	largest := 0

	for start, v := range mask {
		if v == 0 || b.visited[start] {
			continue
		}

		area := 0
		b.visited[start] = true
		b.stack = append(b.stack[:0], int32(start))
		for len(b.stack) > 0 {
			idx := int(b.stack[len(b.stack)-1])
			b.stack = b.stack[:len(b.stack)-1]
			area++

			x, y := idx%w, idx/w
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if (dx == 0 && dy == 0) || nx < 0 || nx >= w {
						continue
					}
					n := ny*w + nx
					if mask[n] != 0 && !b.visited[n] {
						b.visited[n] = true
						b.stack = append(b.stack, int32(n))
					}
				}
			}
		}
		largest = max(largest, area)
	}
	return largest
}
