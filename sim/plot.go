package sim

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// NewTrackPlot creates a horizontal plane plot of the three trajectory
// tracks, each a matrix with x and y positions in its first two columns:
// truth:    ground truth positions
// observed: registration front end observations
// filtered: filter odometry output
// It returns error if either track is nil or has fewer than 2 columns.
func NewTrackPlot(truth, observed, filtered *mat.Dense) (*plot.Plot, error) {
	if truth == nil || observed == nil || filtered == nil {
		return nil, fmt.Errorf("invalid track data supplied")
	}

	for _, track := range []*mat.Dense{truth, observed, filtered} {
		if _, c := track.Dims(); c < 2 {
			return nil, fmt.Errorf("invalid track dimensions: %d", c)
		}
	}

	p := plot.New()

	p.Title.Text = "Trajectory"
	p.X.Label.Text = "X [m]"
	p.Y.Label.Text = "Y [m]"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	truthScatter, err := plotter.NewScatter(makePoints(truth))
	if err != nil {
		return nil, err
	}
	truthScatter.GlyphStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	truthScatter.Shape = draw.PyramidGlyph{}
	truthScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(truthScatter)
	p.Legend.Add("ground truth", truthScatter)

	obsScatter, err := plotter.NewScatter(makePoints(observed))
	if err != nil {
		return nil, err
	}
	obsScatter.GlyphStyle.Color = color.RGBA{G: 255, A: 128}
	obsScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(obsScatter)
	p.Legend.Add("observation", obsScatter)

	filterScatter, err := plotter.NewScatter(makePoints(filtered))
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %v", err)
	}
	filterScatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169}
	filterScatter.Shape = draw.CrossGlyph{}
	filterScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(filterScatter)
	p.Legend.Add("odometry", filterScatter)

	return p, nil
}

func makePoints(m *mat.Dense) plotter.XYs {
	r, _ := m.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = m.At(i, 0)
		pts[i].Y = m.At(i, 1)
	}

	return pts
}
