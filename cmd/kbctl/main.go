package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "kbctl",
		Usage:     "Manage per-chat PDF knowledge bases",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Usage:   "Knowledge base API base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{"KB_API_URL"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "HTTP request timeout",
				Value: 5 * time.Minute,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Upload a PDF and follow its processing",
				ArgsUsage: "FILE",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					chatFlag(),
					&cli.BoolFlag{
						Name:  "no-wait",
						Usage: "Return after the upload is accepted",
					},
					&cli.DurationFlag{
						Name:  "poll-interval",
						Usage: "Job status polling interval",
						Value: time.Second,
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show an upload job",
				ArgsUsage: "JOB_ID",
				Action:    statusCommand,
			},
			{
				Name:      "retrieve",
				Usage:     "Print the context assembled for a question",
				ArgsUsage: "QUERY",
				Action:    retrieveCommand,
				Flags: []cli.Flag{
					chatFlag(),
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of chunks to retrieve (0 uses the server default)",
					},
					&cli.BoolFlag{
						Name:  "sources",
						Usage: "List sources after the context",
					},
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove a document from a chat",
				ArgsUsage: "FILENAME",
				Action:    removeCommand,
				Flags:     []cli.Flag{chatFlag()},
			},
		},
	}
}

func chatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "chat",
		Aliases:  []string{"c"},
		Usage:    "Chat id",
		Required: true,
	}
}

func clientFrom(c *cli.Context) *apiClient {
	return newAPIClient(c.String("api"), c.Duration("timeout"))
}

func requireArg(c *cli.Context, name string) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit(fmt.Sprintf("expected exactly one %s argument", name), 2)
	}
	return c.Args().First(), nil
}

func ingestCommand(c *cli.Context) error {
	path, err := requireArg(c, "FILE")
	if err != nil {
		return err
	}
	client := clientFrom(c)

	res, err := client.upload(c.Context, c.String("chat"), path)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "job %s queued\n", res.JobID)
	if c.Bool("no-wait") {
		return nil
	}

	job, err := client.waitForJob(c.Context, res.JobID, c.Duration("poll-interval"), func(j *domain.UploadJob) {
		fmt.Fprintf(c.App.Writer, "%-10s %-22s %5.1f%%\n", j.Status, j.Stage, j.Progress)
	})
	if err != nil {
		return err
	}
	if job.Status == domain.JobFailed {
		return cli.Exit(fmt.Sprintf("job %s failed: %s", job.JobID, job.Error), 1)
	}
	fmt.Fprintf(c.App.Writer, "done: %d chunks added (backend %s)\n", job.ChunksAdded, job.Backend)
	return nil
}

func statusCommand(c *cli.Context) error {
	jobID, err := requireArg(c, "JOB_ID")
	if err != nil {
		return err
	}
	job, err := clientFrom(c).jobStatus(c.Context, jobID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "job:      %s\nfile:     %s\nstatus:   %s\nstage:    %s\nprogress: %.1f%%\nchunks:   %d\n",
		job.JobID, job.Filename, job.Status, job.Stage, job.Progress, job.ChunksAdded)
	if job.Error != "" {
		fmt.Fprintf(c.App.Writer, "error:    %s\n", job.Error)
	}
	return nil
}

func retrieveCommand(c *cli.Context) error {
	query, err := requireArg(c, "QUERY")
	if err != nil {
		return err
	}
	result, err := clientFrom(c).retrieve(c.Context, c.String("chat"), query, c.Int("top-k"))
	if err != nil {
		return err
	}
	if result.Context == "" {
		fmt.Fprintln(c.App.Writer, "no relevant context found")
		return nil
	}
	fmt.Fprintln(c.App.Writer, result.Context)
	if c.Bool("sources") {
		fmt.Fprintln(c.App.Writer)
		for _, src := range result.Sources {
			fmt.Fprintf(c.App.Writer, "[%d] %s - %s (%.3f)\n", src.ID, src.Source, src.Location, src.Similarity)
		}
	}
	return nil
}

func removeCommand(c *cli.Context) error {
	filename, err := requireArg(c, "FILENAME")
	if err != nil {
		return err
	}
	if err := clientFrom(c).remove(c.Context, c.String("chat"), filename); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "removed %s\n", filename)
	return nil
}
