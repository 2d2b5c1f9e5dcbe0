package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/kalambet/interview/internal/api"
	"github.com/kalambet/interview/internal/config"
	"github.com/kalambet/interview/internal/gitinfo"
	"github.com/kalambet/interview/internal/interview"
	"github.com/kalambet/interview/internal/questions"
	"github.com/kalambet/interview/internal/registry"
	"github.com/kalambet/interview/internal/session"
	"github.com/kalambet/interview/internal/snapshot"
	"github.com/kalambet/interview/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run [file|-]",
	Short: "Run an interview and print the outcome as JSON",
	Long: `Run an interview from a JSON or YAML questions file and print the outcome
as JSON on stdout. Use "-" to read JSON from stdin.

Examples:
  interview run questions.json
  interview run --timeout 120 --no-open questions.yaml
  interview run --resume ~/.local/share/interview/recovery/recovery-20260102T030405Z-0f8fad5b.html`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resume, _ := cmd.Flags().GetString("resume")
		if len(args) == 0 && resume == "" {
			return fmt.Errorf("a questions file or --resume is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyRunFlags(cmd, &cfg); err != nil {
			return err
		}
		noOpen, _ := cmd.Flags().GetBool("no-open")
		if noOpen {
			cfg.Session.OpenBrowser = false
		}

		var doc *questions.Document
		var answers questions.Answers
		if resume != "" {
			rec, err := snapshot.Load(resume)
			if err != nil {
				return fmt.Errorf("loading %s: %w", resume, err)
			}
			doc, answers = rec.Document, rec.Answers
		}
		if len(args) == 1 {
			doc, err = readDocument(args[0], os.Stdin)
			if err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		r, cleanup, err := newRunner(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := r.run(ctx, doc, answers, time.Duration(cfg.Session.TimeoutSeconds)*time.Second, nil)
		if err != nil {
			return err
		}
		if err := writeOutcome(cmd.OutOrStdout(), res.Outcome); err != nil {
			return err
		}
		if res.Outcome.Status != session.Completed {
			printWarning("interview %s", describeOutcome(res.Outcome))
			return errNotCompleted
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Int("timeout", 0, "seconds the user has to answer (default from config)")
	runCmd.Flags().Int("port", 0, "loopback port for the form (default from config, 0 picks a free one)")
	runCmd.Flags().Bool("no-open", false, "do not open a browser")
	runCmd.Flags().Bool("auto-save", false, "write a snapshot when the form is submitted")
	runCmd.Flags().String("resume", "", "prefill answers (and questions) from a snapshot or recovery file")
	runCmd.Flags().String("snapshot-dir", "", "directory for snapshot files")
}

// applyRunFlags layers explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		cfg.Session.TimeoutSeconds, _ = flags.GetInt("timeout")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("auto-save") {
		cfg.Session.AutoSave, _ = flags.GetBool("auto-save")
	}
	if flags.Changed("snapshot-dir") {
		cfg.Storage.SnapshotDir, _ = flags.GetString("snapshot-dir")
	}
	return cfg.Validate()
}

func readDocument(arg string, stdin io.Reader) (*questions.Document, error) {
	if arg != "-" {
		return questions.Load(arg)
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return questions.Parse(data, "stdin.json")
}

func writeOutcome(w io.Writer, out session.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func describeOutcome(out session.Outcome) string {
	msg := out.Status.String()
	if out.Reason != "" {
		msg += " (" + string(out.Reason) + ")"
	}
	if out.RecoveryPath != "" {
		msg += "; partial answers saved to " + out.RecoveryPath
	}
	return msg
}

// runner starts interviews with the configured storage, registry, and
// browser launcher. It backs both the run command and the MCP ask_user tool.
type runner struct {
	cfg      config.Config
	paths    config.Paths
	registry *registry.Registry
	history  *storage.Store
	cwd      string
	open     func(url string) error
	logger   *slog.Logger
}

func newRunner(cfg config.Config) (*runner, func(), error) {
	paths := config.PathsFor(cfg)
	logger := slog.Default()

	store, err := storage.Open(paths.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}

	return &runner{
		cfg:      cfg,
		paths:    paths,
		registry: registry.New(paths.Registry, registry.WithLogger(logger)),
		history:  store,
		cwd:      workingDir(),
		open:     browser.OpenURL,
		logger:   logger,
	}, cleanup, nil
}

func (r *runner) options(doc *questions.Document, answers questions.Answers, timeout time.Duration) interview.Options {
	opts := interview.Options{
		Document:    doc,
		Timeout:     timeout,
		Port:        r.cfg.Server.Port,
		Answers:     answers,
		AutoSave:    r.cfg.Session.AutoSave,
		SnapshotDir: r.paths.Snapshots,
		RecoveryDir: r.paths.Recovery,
		UploadDir:   r.paths.Uploads,
		Registry:    r.registry,
		Cwd:         r.cwd,
		Branch:      gitinfo.Branch(r.cwd),
		Logger:      r.logger,
	}
	if r.history != nil {
		opts.History = r.history
	}
	return opts
}

// run starts an interview, shows the user where to answer, and waits for
// the outcome. Cancelling ctx aborts the interview.
// run starts an interview and blocks until it finishes. queued, if set, hears
// about a queued start before the user has answered.
func (r *runner) run(ctx context.Context, doc *questions.Document, answers questions.Answers, timeout time.Duration, queued api.QueuedFunc) (api.InterviewResult, error) {
	it, err := interview.Start(ctx, r.options(doc, answers, timeout))
	if err != nil {
		return api.InterviewResult{}, err
	}

	res := api.InterviewResult{URL: it.URL()}
	if q := it.Queue(); q != nil {
		res.Notice = q.String()
		printWarning("%s", res.Notice)
		if queued != nil {
			queued(res.Notice, res.URL)
		}
	} else if r.cfg.Session.OpenBrowser && r.open != nil {
		if err := r.open(it.URL()); err != nil {
			r.logger.Warn("opening browser failed", "error", err)
		}
	}
	printStep("Answer at %s", it.URL())

	res.Outcome = it.Wait()
	return res, nil
}

// RunInterview implements api.Runner.
func (r *runner) RunInterview(ctx context.Context, doc *questions.Document, timeout time.Duration, queued api.QueuedFunc) (api.InterviewResult, error) {
	if timeout <= 0 {
		timeout = time.Duration(r.cfg.Session.TimeoutSeconds) * time.Second
	}
	return r.run(ctx, doc, nil, timeout, queued)
}
