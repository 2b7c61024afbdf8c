//go:build !purego

package vision

import (
	"image"

	"gocv.io/x/gocv"
)

var defaultCorrelator correlator = gocvCorrelator{}

// gocvCorrelator delegates to OpenCV's matchTemplate.
type gocvCorrelator struct{}

func (gocvCorrelator) correlate(haystack, needle *image.RGBA, color bool, threshold float64) []candidate {
	if flatTemplate(needle, color) {
		return nil
	}

	hay, err := toMat(haystack, color)
	if err != nil {
		return nil
	}
	defer hay.Close()

	tpl, err := toMat(needle, color)
	if err != nil {
		return nil
	}
	defer tpl.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(hay, tpl, &result, gocv.TmCcoeffNormed, mask)

	scores, err := result.DataPtrFloat32()
	if err != nil {
		return nil
	}

	cols := result.Cols()
	var out []candidate
	for i, v := range scores {
		score := float64(v)
		if score > 1 {
			score = 1
		}
		if score >= threshold {
			out = append(out, candidate{x: i % cols, y: i / cols, score: score})
		}
	}

	return out
}

func toMat(img *image.RGBA, color bool) (gocv.Mat, error) {
	bgr, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, err
	}
	if color {
		return bgr, nil
	}

	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	bgr.Close()
	return gray, nil
}
