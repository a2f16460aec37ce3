package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/kilianp07/crimecast/core/train"
)

// LossCurve plots train and validation loss per epoch and marks the best
// epoch. The image format follows the path extension.
func LossCurve(path string, res *train.Result) error {
	p, err := lossPlot(res)
	if err != nil {
		return err
	}
	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}

// WriteLossCurve writes the loss curve as PNG to w.
func WriteLossCurve(w io.Writer, res *train.Result) error {
	p, err := lossPlot(res)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

func lossPlot(res *train.Result) (*plot.Plot, error) {
	if res == nil || len(res.History) == 0 {
		return nil, errors.New("no epochs to plot")
	}
	trainPts := make(plotter.XYs, 0, len(res.History))
	valPts := make(plotter.XYs, 0, len(res.History))
	for _, e := range res.History {
		trainPts = append(trainPts, plotter.XY{X: float64(e.Epoch), Y: e.TrainLoss})
		valPts = append(valPts, plotter.XY{X: float64(e.Epoch), Y: e.ValLoss})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s", res.RunID)
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Weighted BCE"

	trainLine, err := plotter.NewLine(trainPts)
	if err != nil {
		return nil, fmt.Errorf("train line: %w", err)
	}
	trainLine.Color = color.RGBA{R: 0x31, G: 0x68, B: 0x8e, A: 0xff}
	trainLine.Width = vg.Points(1.5)

	valLine, err := plotter.NewLine(valPts)
	if err != nil {
		return nil, fmt.Errorf("val line: %w", err)
	}
	valLine.Color = color.RGBA{R: 0x35, G: 0xb7, B: 0x79, A: 0xff}
	valLine.Width = vg.Points(1.5)
	valLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	best, err := plotter.NewScatter(plotter.XYs{{X: float64(res.Best.Epoch), Y: res.Best.ValLoss}})
	if err != nil {
		return nil, fmt.Errorf("best marker: %w", err)
	}
	best.Color = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	best.Radius = vg.Points(4)

	p.Add(plotter.NewGrid(), trainLine, valLine, best)
	p.Legend.Add("train", trainLine)
	p.Legend.Add("validation", valLine)
	p.Legend.Add("best", best)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}
