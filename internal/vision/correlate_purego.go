//go:build purego

package vision

import (
	"image"
	"math"
	"runtime"
	"sync"
)

const (
	// coarseFactor is the block size of the pre-filter pass.
	coarseFactor = 4
	// coarseSlack lowers the threshold for the pre-filter so block averaging
	// does not hide a full resolution match.
	coarseSlack = 0.2
	// minCoarseSide is the smallest reduced template side worth pre-filtering.
	minCoarseSide = 4
)

var defaultCorrelator correlator = nccCorrelator{factor: coarseFactor}

// integral holds summed-area tables of values and squared values.
type integral struct {
	stride int
	sum    []float64
	sq     []float64
}

func newIntegral(p plane) integral {
	stride := p.w + 1
	in := integral{
		stride: stride,
		sum:    make([]float64, stride*(p.h+1)),
		sq:     make([]float64, stride*(p.h+1)),
	}

	for y := 0; y < p.h; y++ {
		var rowSum, rowSq float64
		for x := 0; x < p.w; x++ {
			v := p.pix[y*p.w+x]
			rowSum += v
			rowSq += v * v
			in.sum[(y+1)*stride+x+1] = in.sum[y*stride+x+1] + rowSum
			in.sq[(y+1)*stride+x+1] = in.sq[y*stride+x+1] + rowSq
		}
	}

	return in
}

func (in integral) window(x, y, w, h int) (float64, float64) {
	a := y*in.stride + x
	b := y*in.stride + x + w
	c := (y+h)*in.stride + x
	d := (y+h)*in.stride + x + w
	return in.sum[d] - in.sum[b] - in.sum[c] + in.sum[a], in.sq[d] - in.sq[b] - in.sq[c] + in.sq[a]
}

// nccCorrelator is the OpenCV-free backend. With factor > 1 every placement
// is first scored on factor x factor block means and only placements close
// to the threshold get the full resolution score.
type nccCorrelator struct {
	factor int
}

// coarse is the block-mean view of a search.
type coarse struct {
	// box[c] holds the f x f block mean at every full resolution origin.
	box    [][]float64
	stride int
	// tpl[c] holds the centered block means of the template.
	tpl    [][]float64
	tw, th int
	norm   float64
}

func (nc nccCorrelator) correlate(haystack, needle *image.RGBA, color bool, threshold float64) []candidate {
	hay := planes(haystack, color)
	tpl := planes(needle, color)

	W, H := hay[0].w, hay[0].h
	w, h := tpl[0].w, tpl[0].h
	rw, rh := W-w+1, H-h+1
	if rw <= 0 || rh <= 0 {
		return nil
	}

	n := float64(w * h)
	centered := make([][]float64, len(tpl))
	var tplNorm float64
	for c, p := range tpl {
		var mean float64
		for _, v := range p.pix {
			mean += v
		}
		mean /= n

		centered[c] = make([]float64, len(p.pix))
		for i, v := range p.pix {
			d := v - mean
			centered[c][i] = d
			tplNorm += d * d
		}
	}
	if tplNorm <= minWindowVariance {
		return nil
	}

	tables := make([]integral, len(hay))
	for c, p := range hay {
		tables[c] = newIntegral(p)
	}

	pre := nc.prepare(hay, tpl, tables)

	score := func(x, y int) (float64, bool) {
		var variance float64
		for c := range hay {
			s, sq := tables[c].window(x, y, w, h)
			variance += sq - s*s/n
		}
		if variance <= minWindowVariance {
			return 0, false
		}

		var num float64
		for c := range hay {
			hp := hay[c].pix
			tp := centered[c]
			for j := 0; j < h; j++ {
				hrow := hp[(y+j)*W+x : (y+j)*W+x+w]
				trow := tp[j*w : j*w+w]
				for i, tv := range trow {
					num += tv * hrow[i]
				}
			}
		}

		return math.Min(num/math.Sqrt(tplNorm*variance), 1), true
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > rh {
		workers = rh
	}
	chunk := (rh + workers - 1) / workers
	results := make([][]candidate, workers)

	var wg sync.WaitGroup
	for wi := 0; wi < workers; wi++ {
		y0 := wi * chunk
		y1 := y0 + chunk
		if y1 > rh {
			y1 = rh
		}
		if y0 >= y1 {
			continue
		}

		wg.Add(1)
		go func(slot, y0, y1 int) {
			defer wg.Done()

			var local []candidate
			for y := y0; y < y1; y++ {
				for x := 0; x < rw; x++ {
					if pre != nil && pre.score(x, y, nc.factor) < threshold-coarseSlack {
						continue
					}
					if s, ok := score(x, y); ok && s >= threshold {
						local = append(local, candidate{x: x, y: y, score: s})
					}
				}
			}
			results[slot] = local
		}(wi, y0, y1)
	}
	wg.Wait()

	var out []candidate
	for _, r := range results {
		out = append(out, r...)
	}

	return out
}

// prepare builds the block-mean view. It returns nil when the template is too
// small to reduce or loses all variance once reduced.
func (nc nccCorrelator) prepare(hay, tpl []plane, tables []integral) *coarse {
	f := nc.factor
	if f <= 1 {
		return nil
	}

	w, h := tpl[0].w, tpl[0].h
	tw, th := w/f, h/f
	if tw < minCoarseSide || th < minCoarseSide {
		return nil
	}

	W, H := hay[0].w, hay[0].h
	bw, bh := W-f+1, H-f+1
	area := float64(f * f)

	pre := &coarse{
		box:    make([][]float64, len(hay)),
		stride: bw,
		tpl:    make([][]float64, len(tpl)),
		tw:     tw,
		th:     th,
	}

	for c := range hay {
		box := make([]float64, bw*bh)
		for y := 0; y < bh; y++ {
			for x := 0; x < bw; x++ {
				s, _ := tables[c].window(x, y, f, f)
				box[y*bw+x] = s / area
			}
		}
		pre.box[c] = box
	}

	cells := float64(tw * th)
	for c, p := range tpl {
		means := make([]float64, tw*th)
		var total float64
		for j := 0; j < th; j++ {
			for i := 0; i < tw; i++ {
				var s float64
				for dy := 0; dy < f; dy++ {
					row := p.pix[(j*f+dy)*w+i*f:]
					for dx := 0; dx < f; dx++ {
						s += row[dx]
					}
				}
				means[j*tw+i] = s / area
				total += s / area
			}
		}

		mean := total / cells
		for i, v := range means {
			d := v - mean
			means[i] = d
			pre.norm += d * d
		}
		pre.tpl[c] = means
	}
	if pre.norm <= minWindowVariance {
		return nil
	}

	return pre
}

// score correlates the block means sampled every f pixels from (x, y).
func (pre *coarse) score(x, y, f int) float64 {
	cells := float64(pre.tw * pre.th)

	var num, variance float64
	for c, box := range pre.box {
		tp := pre.tpl[c]
		var sum, sq float64
		for j := 0; j < pre.th; j++ {
			base := (y+j*f)*pre.stride + x
			trow := tp[j*pre.tw : (j+1)*pre.tw]
			for i, tv := range trow {
				v := box[base+i*f]
				num += tv * v
				sum += v
				sq += v * v
			}
		}
		variance += sq - sum*sum/cells
	}
	if variance <= minWindowVariance {
		return 0
	}

	return num / math.Sqrt(pre.norm*variance)
}
