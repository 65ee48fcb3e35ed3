package volume

import (
	"encoding/binary"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"volbrick/pkg/arena"
	"volbrick/pkg/brick"
)

// Stats summarizes the first channel of a brick's valid region.
type Stats struct {
	Min, Max, Mean float64
}

// BrickStats reads the data component of b. Only the first channel of each
// voxel is sampled.
func BrickStats(a *arena.Arena, b *brick.Brick, bytesPerChannel int) (Stats, error) {
	v := b.View(brick.ComponentData)
	if !v.Bound() {
		return Stats{}, fmt.Errorf("brick %d has no data view", b.ID)
	}
	buf, err := a.Bytes(v.Buffer)
	if err != nil {
		return Stats{}, err
	}
	vals := make([]float64, 0, b.Valid.Voxels())
	for z := b.Valid.Min[2]; z < b.Valid.Max[2]; z++ {
		for y := b.Valid.Min[1]; y < b.Valid.Max[1]; y++ {
			for x := b.Valid.Min[0]; x < b.Valid.Max[0]; x++ {
				o := v.Offset +
					(z-b.Data.Min[2])*v.Strides[2] +
					(y-b.Data.Min[1])*v.Strides[1] +
					(x-b.Data.Min[0])*v.Strides[0]
				vals = append(vals, sample(buf[o:], bytesPerChannel))
			}
		}
	}
	if len(vals) == 0 {
		return Stats{}, nil
	}
	return Stats{Min: floats.Min(vals), Max: floats.Max(vals), Mean: stat.Mean(vals, nil)}, nil
}

func sample(p []byte, bytesPerChannel int) float64 {
	if bytesPerChannel == 2 {
		return float64(binary.LittleEndian.Uint16(p))
	}
	return float64(p[0])
}

// valueRange returns the min and max of the first channel of data.
func valueRange(data []byte, channels, bytesPerChannel int) (float64, float64) {
	stride := channels * bytesPerChannel
	n := len(data) / stride
	if n == 0 {
		return 0, 0
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = sample(data[i*stride:], bytesPerChannel)
	}
	return floats.Min(vals), floats.Max(vals)
}

// ThresholdOracle estimates emptiness from the data: a brick whose maximum
// does not exceed the threshold is empty. Estimates are cached per brick and
// written to Brick.Priority for other consumers.
type ThresholdOracle struct {
	arena           *arena.Arena
	threshold       float64
	bytesPerChannel int
	memo            map[*brick.Brick]int
}

// NewThresholdOracle returns an oracle treating values at or below
// threshold as empty.
func NewThresholdOracle(a *arena.Arena, threshold float64, bytesPerChannel int) *ThresholdOracle {
	return &ThresholdOracle{
		arena:           a,
		threshold:       threshold,
		bytesPerChannel: bytesPerChannel,
		memo:            make(map[*brick.Brick]int),
	}
}

// Priority implements scheduler.EmptinessOracle. Bricks that cannot be read
// count as non-empty.
func (o *ThresholdOracle) Priority(b *brick.Brick) int {
	if p, ok := o.memo[b]; ok {
		return p
	}
	p := brick.PriorityNonEmpty
	if st, err := BrickStats(o.arena, b, o.bytesPerChannel); err == nil && st.Max <= o.threshold {
		p = brick.PriorityEmpty
	}
	b.Priority = p
	o.memo[b] = p
	return p
}

// Reset drops every cached estimate.
func (o *ThresholdOracle) Reset() {
	clear(o.memo)
}
