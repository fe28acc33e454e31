package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/sheet-ledger/internal/jobs"
	"github.com/dvloznov/sheet-ledger/internal/logger"
)

// JobHandler adapts p to the job queue. Failures before the commit step are
// retried by the queue; anything from the commit step on is permanent, so a
// write is never re-submitted automatically.
func JobHandler(p *Pipeline) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.(*jobs.ProcessMessageJob)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unsupported job type %s", job.GetType()))
		}

		log := logger.FromContext(ctx).With().Str("job_id", msg.JobID).Logger()
		ctx = logger.WithContext(ctx, log)
		state := &PipelineState{
			Text:          msg.Text,
			ReceiptURI:    msg.ReceiptURI,
			Image:         msg.Image,
			ImageMIMEType: msg.ImageMIMEType,
		}

		err := p.Execute(ctx, state)
		msg.Result = state.Result
		if err != nil {
			if state.Committed {
				return jobs.Permanent(err)
			}
			return err
		}

		log.Info().
			Str("status", string(state.Result.Status)).
			Str("group_id", state.Result.GroupID).
			Msg("Message processed")
		return nil
	}
}
