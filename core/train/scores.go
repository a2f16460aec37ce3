package train

// Scores are binary classification metrics at one threshold. Precision,
// recall and F1 are zero when undefined.
type Scores struct {
	TP, FP, FN, TN int
	Precision      float64
	Recall         float64
	F1             float64
}

// Score classifies p > threshold as positive and compares with labels.
func Score(p []float64, labels []uint8, threshold float64) Scores {
	var s Scores
	for i, pr := range p {
		pos := pr > threshold
		switch {
		case pos && labels[i] != 0:
			s.TP++
		case pos:
			s.FP++
		case labels[i] != 0:
			s.FN++
		default:
			s.TN++
		}
	}
	if s.TP+s.FP > 0 {
		s.Precision = float64(s.TP) / float64(s.TP+s.FP)
	}
	if s.TP+s.FN > 0 {
		s.Recall = float64(s.TP) / float64(s.TP+s.FN)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

// SweepPoint is the score at one candidate threshold.
type SweepPoint struct {
	Threshold float64
	Scores
}

// SweepResult lists every candidate and the best one.
type SweepResult struct {
	Points []SweepPoint
	Best   SweepPoint
}

// DefaultThresholds returns 0.10, 0.15, ..., 0.90.
func DefaultThresholds() []float64 {
	out := make([]float64, 0, 17)
	for k := 10; k <= 90; k += 5 {
		out = append(out, float64(k)/100)
	}
	return out
}

// Sweep scores every threshold. The best point is the first one reaching the
// highest F1; a later threshold must beat it strictly. The result is
// advisory and never changes the configured threshold.
func Sweep(p []float64, labels []uint8, thresholds []float64) SweepResult {
	res := SweepResult{Points: make([]SweepPoint, 0, len(thresholds))}
	for i, th := range thresholds {
		pt := SweepPoint{Threshold: th, Scores: Score(p, labels, th)}
		res.Points = append(res.Points, pt)
		if i == 0 || pt.F1 > res.Best.F1 {
			res.Best = pt
		}
	}
	return res
}
