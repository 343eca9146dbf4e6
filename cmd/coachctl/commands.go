package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/fluentops/internal/client"
	"github.com/okian/fluentops/internal/loadtest"
	"github.com/okian/fluentops/pkg/logger"
)

const (
	defaultURL         = "http://localhost:9080"
	defaultTimeout     = 30 * time.Second
	defaultLoadCount   = 100
	defaultLoadUsers   = 10
	defaultLoadTimeout = 10 * time.Minute
)

type rootOptions struct {
	url     string
	user    string
	timeout time.Duration
	out     io.Writer
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.url, o.user, client.WithTimeout(o.timeout))
}

func (o *rootOptions) print(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{out: out}
	root := &cobra.Command{
		Use:           "coachctl",
		Short:         "Submit and follow language assessments",
		SilenceUsage:  true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.url, "url", envOr("COACHCTL_URL", defaultURL), "Base URL of the service")
	root.PersistentFlags().StringVar(&opts.user, "user", os.Getenv("COACHCTL_USER"), "Caller identity sent as X-User-ID")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "Timeout of non-streaming requests")

	root.AddCommand(
		newSubmitCmd(opts),
		newGetCmd(opts),
		newListCmd(opts),
		newStreamCmd(opts),
		newBalanceCmd(opts),
		newLoadCmd(opts),
	)
	return root
}

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	var (
		text      string
		recording string
		goals     []string
		follow    bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit text or a recording reference for assessment",
		Long: `Submit text or a recording reference for assessment.

Exactly one of --text and --recording is required. With --follow the
assessment's events are printed until it finishes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := client.SubmitRequest{Goals: goals}
			switch {
			case text != "" && recording != "":
				return errors.New("--text and --recording are mutually exclusive")
			case text != "":
				req.InputKind, req.Text = "text", text
			case recording != "":
				req.InputKind, req.RecordingRef = "recording", recording
			default:
				return errors.New("one of --text or --recording is required")
			}
			c := opts.client()
			sub, err := c.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := opts.print(sub); err != nil {
				return err
			}
			if follow {
				return printStream(cmd.Context(), opts, c, sub.AssessmentID, -1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Text to assess")
	cmd.Flags().StringVar(&recording, "recording", "", "Recording reference to assess")
	cmd.Flags().StringSliceVar(&goals, "goal", nil, "Learning goal; repeatable")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream events until the assessment finishes")
	return cmd
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.client().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.print(a)
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your assessments, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := opts.client().List(cmd.Context(), page, limit)
			if err != nil {
				return err
			}
			return opts.print(list)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size; 0 uses the server default")
	return cmd
}

func newStreamCmd(opts *rootOptions) *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "stream <id>",
		Short: "Print an assessment's events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStream(cmd.Context(), opts, opts.client(), args[0], since)
		},
	}
	cmd.Flags().Int64Var(&since, "since", -1, "Only events after this seq")
	return cmd
}

func newBalanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show your credit balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := opts.client().Balance(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(opts.out, strconv.FormatInt(n, 10))
			return err
		},
	}
}

func newLoadCmd(opts *rootOptions) *cobra.Command {
	cfg := &loadtest.Config{}
	var total time.Duration
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Submit many assessments concurrently and verify their streams",
		Long: `Submit many assessments concurrently and verify their streams.

Submissions are spread over users named load-user-0 .. load-user-N-1, which
need credits on the server. Every accepted assessment is streamed to its end
and checked for increasing seq numbers and exactly one terminal event.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.InitWith(cmd.ErrOrStderr(), logger.FormatText); err != nil {
				return err
			}
			if cfg.Verbose {
				_ = logger.SetLevelString("debug")
			}
			cfg.BaseURL = opts.url
			cfg.Timeout = opts.timeout
			ctx, cancel := context.WithTimeout(cmd.Context(), total)
			defer cancel()
			stats, err := loadtest.Run(ctx, cfg)
			if stats != nil {
				if perr := opts.print(stats); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().IntVar(&cfg.Assessments, "count", defaultLoadCount, "Number of assessments to submit")
	cmd.Flags().IntVar(&cfg.Users, "users", defaultLoadUsers, "Number of distinct users")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", runtime.NumCPU()*2, "Concurrent submissions")
	cmd.Flags().DurationVar(&total, "deadline", defaultLoadTimeout, "Deadline of the whole run")
	cmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Log every assessment")
	return cmd
}

// printStream writes one JSON line per event.
func printStream(ctx context.Context, opts *rootOptions, c *client.Client, id string, since int64) error {
	enc := json.NewEncoder(opts.out)
	for ev, err := range c.Stream(ctx, id, since) {
		if err != nil {
			return err
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
