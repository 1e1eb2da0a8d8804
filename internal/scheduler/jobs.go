package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tillsync/tillsync/internal/docstore"
)

// sweepTimeout bounds one maintenance run. A sweep lists a whole account
// scope and issues deletes, so a hung gateway must not pin the job forever.
const sweepTimeout = 10 * time.Minute

type OrphanSweepJob struct {
	Name     string
	Log      zerolog.Logger
	DocStore docstore.Service
}

func (j *OrphanSweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	report, err := j.DocStore.Sweep(ctx)
	if err != nil {
		j.Log.Error().Err(err).Msg("orphan sweep failed")
		return
	}

	j.Log.Info().
		Int("scanned", report.RecordsScanned).
		Int("orphans", report.OrphansDeleted).
		Dur("duration", report.Duration).
		Msg("orphan sweep job finished")
}
