package ladder

// FitIsotonic fits a monotone sequence to ys with weights ws using pool
// adjacent violators. The non-decreasing case is handled by negating in and
// out of the non-increasing solver. Output is clipped to [0,1].
func FitIsotonic(ys, ws []float64, dir Direction) []float64 {
	if len(ys) == 0 {
		return nil
	}

	values := make([]float64, len(ys))
	copy(values, ys)
	if dir == DirNonDecreasing {
		for i := range values {
			values[i] = -values[i]
		}
	}

	fitted := pavNonIncreasing(values, ws)

	if dir == DirNonDecreasing {
		for i := range fitted {
			fitted[i] = -fitted[i]
		}
	}
	for i := range fitted {
		if fitted[i] < 0 {
			fitted[i] = 0
		} else if fitted[i] > 1 {
			fitted[i] = 1
		}
	}
	return fitted
}

type pavBlock struct {
	value  float64
	weight float64
	count  int
}

// pavNonIncreasing pools adjacent blocks whenever a later block rises above
// an earlier one, re-pooling leftward until the prefix is monotone again,
// then runs a final propagation pass to flatten any residual rise.
func pavNonIncreasing(ys, ws []float64) []float64 {
	blocks := make([]pavBlock, 0, len(ys))
	for i, y := range ys {
		blocks = append(blocks, pavBlock{value: y, weight: ws[i], count: 1})
		for len(blocks) >= 2 {
			last := blocks[len(blocks)-1]
			prev := blocks[len(blocks)-2]
			if prev.value >= last.value {
				break
			}
			merged := pavBlock{
				value:  (prev.value*prev.weight + last.value*last.weight) / (prev.weight + last.weight),
				weight: prev.weight + last.weight,
				count:  prev.count + last.count,
			}
			blocks = blocks[:len(blocks)-2]
			blocks = append(blocks, merged)
		}
	}

	out := make([]float64, 0, len(ys))
	for _, blk := range blocks {
		for i := 0; i < blk.count; i++ {
			out = append(out, blk.value)
		}
	}
	for j := 1; j < len(out); j++ {
		if out[j] > out[j-1] {
			out[j] = out[j-1]
		}
	}
	return out
}
