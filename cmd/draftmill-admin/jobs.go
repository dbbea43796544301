package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/draftmill/draftmill/internal/bootstrap"
	"github.com/draftmill/draftmill/internal/domain/model"
)

const jobEventsLimit = 20

// buildServices wires the service container over a direct DB handle. Admin
// commands run without Redis, so the status snapshot cache is simply absent.
func buildServices(cmdCtx *commandContext, db *sql.DB) (bootstrap.ServiceContainer, error) {
	return bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config: &cmdCtx.Config,
		DB:     db,
		Logger: cmdCtx.Logger,
	})
}

func confirm(yes bool, prompt string) error {
	if yes {
		return nil
	}
	if err := writef(os.Stdout, "%s [y/N]: ", prompt); err != nil {
		return err
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer != "y" && answer != "yes" {
		return errors.New("aborted")
	}
	return nil
}

func runJobInfo(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("job-info", flag.ContinueOnError)
	jobID := fs.String("id", "", "job id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *jobID == "" {
		return errors.New("-id is required")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	services, err := buildServices(cmdCtx, db)
	if err != nil {
		return err
	}

	job, err := services.Jobs.GetByID(ctx, *jobID)
	if err != nil {
		return err
	}
	events, err := services.Jobs.Events(ctx, *jobID, jobEventsLimit)
	if err != nil {
		return err
	}

	return printJobDetails(job, events)
}

func printJobDetails(job *model.Job, events []*model.PipelineEvent) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", job.ID)
	fmt.Fprintf(w, "Title:\t%s\n", job.Title)
	fmt.Fprintf(w, "Stage:\t%s\n", job.CurrentStage)
	fmt.Fprintf(w, "Retries:\t%d/%d\n", job.RetryCount, job.MaxRetries)
	fmt.Fprintf(w, "Created:\t%s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:\t%s\n", job.UpdatedAt.Format(time.RFC3339))
	if job.PublishedAt != nil {
		fmt.Fprintf(w, "Published:\t%s\n", job.PublishedAt.Format(time.RFC3339))
	}
	if job.LastError != nil && *job.LastError != "" {
		fmt.Fprintf(w, "Last error:\t%s\n", *job.LastError)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(events) == 0 {
		return writef(os.Stdout, "\nNo pipeline events recorded.\n")
	}

	if err := writef(os.Stdout, "\nRecent events:\n"); err != nil {
		return err
	}
	ew := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, ev := range events {
		fmt.Fprintf(ew, "  %s\t%s\t%s\n",
			ev.CreatedAt.Format(time.RFC3339),
			ev.EventType,
			string(ev.Data),
		)
	}
	return ew.Flush()
}

func runResetJob(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("reset-job", flag.ContinueOnError)
	jobID := fs.String("id", "", "job id (required)")
	stageName := fs.String("stage", string(model.StagePending), "stage to reset the job to")
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *jobID == "" {
		return errors.New("-id is required")
	}

	var stage model.Stage
	if err := stage.UnmarshalText([]byte(*stageName)); err != nil {
		return err
	}

	if err := confirm(*yes, fmt.Sprintf("Reset job %s to stage %s?", *jobID, stage)); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	services, err := buildServices(cmdCtx, db)
	if err != nil {
		return err
	}

	if err := services.Jobs.Reset(ctx, *jobID, stage); err != nil {
		return err
	}
	return writef(os.Stdout, "Job %s reset to %s.\n", *jobID, stage)
}

func runPublishJob(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("publish-job", flag.ContinueOnError)
	jobID := fs.String("id", "", "job id (required)")
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *jobID == "" {
		return errors.New("-id is required")
	}

	if err := confirm(*yes, fmt.Sprintf("Publish job %s?", *jobID)); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	services, err := buildServices(cmdCtx, db)
	if err != nil {
		return err
	}

	if err := services.Jobs.Publish(ctx, *jobID); err != nil {
		return err
	}
	return writef(os.Stdout, "Job %s published.\n", *jobID)
}

func runPipelineStats(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("pipeline-stats", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	services, err := buildServices(cmdCtx, db)
	if err != nil {
		return err
	}

	stats, err := services.Jobs.Stats(ctx)
	if err != nil {
		return err
	}

	return printPipelineStats(stats)
}

func printPipelineStats(stats *model.PipelineStats) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, stage := range model.Stages() {
		fmt.Fprintf(w, "%s\t%d\n", stage, stats.Stages[stage])
	}
	fmt.Fprintf(w, "total\t%d\n", stats.Total)
	return w.Flush()
}

func runTaskStats(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("task-stats", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	services, err := buildServices(cmdCtx, db)
	if err != nil {
		return err
	}

	stats, err := services.Queue.Stats(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "pending\t%d\n", stats.Pending)
	fmt.Fprintf(w, "processing\t%d\n", stats.Processing)
	fmt.Fprintf(w, "completed\t%d\n", stats.Completed)
	fmt.Fprintf(w, "failed\t%d\n", stats.Failed)
	return w.Flush()
}

func runResetStuckTasks(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("reset-stuck-tasks", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := confirm(*yes, "Reset stuck processing tasks?"); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	services, err := buildServices(cmdCtx, db)
	if err != nil {
		return err
	}

	result, err := services.Queue.ResetStuck(ctx)
	if err != nil {
		return err
	}
	return writef(os.Stdout, "Reset %d tasks to pending, failed %d past their retry budget.\n",
		result.Reset, result.Failed)
}

func runApproveTopic(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("approve-topic", flag.ContinueOnError)
	topicID := fs.String("id", "", "topic id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *topicID == "" {
		return errors.New("-id is required")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	services, err := buildServices(cmdCtx, db)
	if err != nil {
		return err
	}

	if err := services.Topics.Approve(ctx, *topicID); err != nil {
		return err
	}
	return writef(os.Stdout, "Topic %s approved.\n", *topicID)
}
