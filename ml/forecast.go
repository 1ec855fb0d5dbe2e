package ml

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Forecast runs nw on a single past window (channels x L) and returns the
// raw forecast of the same shape.
func Forecast(nw *Forecaster, past mat.Matrix) *mat.Dense {
	ws := nw.NewWorkspace()
	out := ws.Forward(ws.Load(past))
	return mat.DenseCopyOf(out.Dense())
}

// ForecastAll forecasts every window, spreading them over the device's
// workers. Output i corresponds to windows[i].
func ForecastAll(nw *Forecaster, dev Device, windows []*mat.Dense) []*mat.Dense {
	results := make([]*mat.Dense, len(windows))
	numWorkers := min(max(dev.Workers, 1), len(windows))

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for id := 0; id < numWorkers; id++ {
		go func(id int) {
			defer wg.Done()
			ws := nw.NewWorkspace()
			for i := id; i < len(windows); i += numWorkers {
				out := ws.Forward(ws.Load(windows[i]))
				results[i] = mat.DenseCopyOf(out.Dense())
			}
		}(id)
	}
	wg.Wait()
	return results
}
