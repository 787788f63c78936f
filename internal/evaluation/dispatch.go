package evaluation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/BossBobxuan/dsst-eval/internal/config"
	"github.com/BossBobxuan/dsst-eval/internal/monitoring"
)

// DatasetError attributes a tracking failure to its dataset and marker.
type DatasetError struct {
	Dataset string
	Marker  config.MarkerSize
	Err     error
}

func (e *DatasetError) Error() string {
	return fmt.Sprintf("dataset %q marker %s: %v", e.Dataset, e.Marker, e.Err)
}

func (e *DatasetError) Unwrap() error { return e.Err }

// TrackAll runs EvaluateDataset for every configured dataset, one marker
// size at a time, with at most MaxWorkers datasets in flight. A failing
// dataset does not stop the others; all failures are returned joined in
// marker then dataset order.
func (o *Orchestrator) TrackAll(ctx context.Context, markers []config.MarkerSize) error {
	datasets := o.Datasets.Datasets()
	workers := o.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	log := monitoring.Component("dispatch")

	var errs []error
	for _, marker := range markers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		log.Info().Str("marker", marker.String()).Int("datasets", len(datasets)).Int("workers", workers).
			Msg("tracking")

		failures := make([]error, len(datasets))
		var g errgroup.Group
		g.SetLimit(workers)
		for i, dataset := range datasets {
			i, dataset := i, dataset
			g.Go(func() error {
				if err := o.EvaluateDataset(ctx, dataset, marker); err != nil {
					log.Error().Str("dataset", dataset).Str("marker", marker.String()).Err(err).
						Msg("dataset failed")
					failures[i] = &DatasetError{Dataset: dataset, Marker: marker, Err: err}
				}
				return nil
			})
		}
		// Workers never return an error; per-dataset failures land in failures.
		g.Wait()

		for _, err := range failures {
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
