package replay

import (
	"context"

	"github.com/awer25/pandaop/safety"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Job is one drive to replay.
type Job struct {
	Name    string
	Entries []Entry
	Mode    safety.Mode
	Param   uint16
}

// JobResult is the outcome of a Job.
type JobResult struct {
	Name string `json:"name"`
	Result
}

// RunAll replays jobs concurrently, at most limit at a time (no limit when
// limit <= 0). Each job gets its own engine, so results are the same as
// running the jobs one after another. Results keep the order of jobs.
func RunAll(ctx context.Context, jobs []Job, limit int, opts ...Option) ([]JobResult, error) {
	c := newConfig(opts)
	results := make([]JobResult, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range jobs {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			job := jobs[i]
			r, err := Run(job.Entries, job.Mode, job.Param, opts...)
			if err != nil {
				return errors.Wrapf(err, "replaying %s", job.Name)
			}
			results[i] = JobResult{Name: job.Name, Result: r}
			if c.progress != nil {
				c.progress()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
