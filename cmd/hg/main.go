package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hiregate/internal/app"
	"hiregate/internal/boundary"
	"hiregate/internal/config"
	"hiregate/internal/domain"
	"hiregate/internal/intake"
	"hiregate/internal/interview"
	"hiregate/internal/logger"
	"hiregate/internal/repo"
	"hiregate/internal/server"
	"hiregate/internal/signals"
)

var rootCmd = &cobra.Command{
	Use:   "hg",
	Short: "Hiregate CLI",
	Long: `Hiregate moves job applications through hiring pipelines with decision gates.
Core concepts:
- Pipeline: ordered stages; each stage lists the evaluation kinds it requires and a block policy.
- Signal: one evaluation's disposition (ALLOW, WARN, BLOCK) for an application at a stage; the latest per source wins.
- Gate: derives ADVANCE, HOLD, REJECT or INCOMPLETE from the effective signals of the current stage.
- Services: intake attaches and withdraws, evaluation and interview emit signals, review resolves holds.
- Candidate token: opaque link that shows a read-only status ('hg status <token>').
- Event log: every change, view with 'hg log tail'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HIREGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "workspace directory (overrides config)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "service config file (default ./hiregate.yaml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "actor identifier (defaults to the acting service)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(applicationCmd())
	rootCmd.AddCommand(signalCmd())
	rootCmd.AddCommand(roundCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(actionsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func pipelineCmd() *cobra.Command {
	p := &cobra.Command{Use: "pipeline", Short: "Manage pipeline definitions"}
	p.AddCommand(pipelineInitCmd())
	p.AddCommand(pipelineImportCmd())
	p.AddCommand(pipelineShowCmd())
	return p
}

func pipelineInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample pipelines.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := config.Path(cfg.Workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func pipelineImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate and store pipeline definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				path := file
				if path == "" {
					path = config.Path(a.Config.Workspace)
				}
				doc, err := config.FromFile(path)
				if err != nil {
					return err
				}
				imported, err := a.ImportPipelines(ctx, doc)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(imported)
				}
				for _, p := range imported {
					fmt.Printf("Imported pipeline %s (%d stages)\n", p.ID, len(p.Stages))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "pipeline document (default <workspace>/pipelines.yml)")
	return cmd
}

func pipelineShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show stored pipelines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var items []domain.Pipeline
				if len(args) == 1 {
					p, err := a.Repo.GetPipeline(ctx, nil, args[0])
					if err != nil {
						return err
					}
					items = []domain.Pipeline{p}
				} else {
					var err error
					if items, err = a.Repo.ListPipelines(ctx); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pipeline", "#", "Stage", "Name", "Requires", "Block policy"})
				for _, p := range items {
					for i, s := range p.Stages {
						tw.AppendRow(table.Row{p.ID, i + 1, s.ID, s.Name, strings.Join(s.Require, ", "), s.BlockPolicy})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func jobCmd() *cobra.Command {
	j := &cobra.Command{Use: "job", Short: "Manage jobs"}
	j.AddCommand(jobCreateCmd())
	j.AddCommand(jobListCmd())
	return j
}

func jobCreateCmd() *cobra.Command {
	var title, pipelineID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job bound to a pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				job, err := a.Intake.CreateJob(ctx, intake.CreateJobInput{Title: title, PipelineID: pipelineID, ActorID: actorFor(boundary.ServiceIntake)})
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "job title")
	cmd.Flags().StringVar(&pipelineID, "pipeline", "", "pipeline id")
	return cmd
}

func jobListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				jobs, err := a.Intake.Store.ListJobs(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(jobs)
			})
		},
	}
	return cmd
}

func applicationCmd() *cobra.Command {
	ap := &cobra.Command{Use: "application", Short: "Manage applications"}
	ap.AddCommand(applicationCreateCmd())
	ap.AddCommand(applicationAttachCmd())
	ap.AddCommand(applicationWithdrawCmd())
	ap.AddCommand(applicationShowCmd())
	ap.AddCommand(applicationResolveCmd())
	return ap
}

func applicationCreateCmd() *cobra.Command {
	var jobID, candidateID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an application, issue its candidate token and attach it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Intake.CreateApplication(ctx, intake.CreateApplicationInput{
					JobID:       jobID,
					CandidateID: candidateID,
					ActorID:     actorFor(boundary.ServiceIntake),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("Application %s created for job %s\n", created.Application.ID, created.Application.JobID)
				fmt.Printf("Candidate token: %s (expires %s)\n", created.Token, created.TokenExpiresAt.Format(time.RFC3339))
				if !created.Attached {
					fmt.Println("Attach failed; retry with 'hg application attach", created.Application.ID+"'")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringVar(&candidateID, "candidate", "", "candidate id")
	return cmd
}

func applicationAttachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <application-id>",
		Short: "Attach an application to its job's pipeline (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Intake.Attach(ctx, args[0]); err != nil {
					return err
				}
				st, err := a.Gateway.State(boundary.WithService(ctx, boundary.ServiceIntake), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	return cmd
}

func applicationWithdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw <application-id>",
		Short: "Withdraw an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				application, err := a.Intake.Withdraw(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(application)
			})
		},
	}
	return cmd
}

func applicationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <application-id>",
		Short: "Show pipeline state and transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ctx = boundary.WithService(ctx, boundary.ServiceReview)
				st, err := a.Gateway.State(ctx, args[0])
				if err != nil {
					return err
				}
				transitions, err := a.Gateway.Transitions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"state": st, "transitions": transitions})
				}
				fmt.Printf("%s: stage %s, %s (version %d)\n", st.ApplicationID, st.CurrentStageID, st.Status, st.Version)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "From", "To", "Status", "Resolution"})
				for _, t := range transitions {
					from := t.FromStageID
					if t.FromStatus != "" {
						from += " (" + string(t.FromStatus) + ")"
					}
					tw.AppendRow(table.Row{t.CreatedAt.Format(time.RFC3339), from, t.ToStageID, t.ToStatus, t.Resolution})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func applicationResolveCmd() *cobra.Command {
	var resolution string
	cmd := &cobra.Command{
		Use:   "resolve <application-id>",
		Short: "Apply a reviewer resolution to a held or active application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res := domain.Resolution(strings.ToUpper(resolution))
				ctx = boundary.WithService(ctx, boundary.ServiceReview)
				st, err := a.Gateway.ApplyResolution(ctx, args[0], res, actorFor(boundary.ServiceReview))
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&resolution, "resolution", "", "ADVANCE, HOLD or REJECT")
	return cmd
}

func signalCmd() *cobra.Command {
	s := &cobra.Command{Use: "signal", Short: "Emit and inspect evaluation signals"}
	s.AddCommand(signalEmitCmd())
	s.AddCommand(signalListCmd())
	return s
}

func signalEmitCmd() *cobra.Command {
	var applicationID, stageID, sourceID, disposition, service string
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Record a signal and evaluate the gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, ok := boundary.ParseService(service)
			if !ok {
				return fmt.Errorf("unknown service %q", service)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				gs, err := a.Gateway.EmitSignal(boundary.WithService(ctx, svc), signals.RecordInput{
					ApplicationID: applicationID,
					StageID:       stageID,
					SourceID:      sourceID,
					Disposition:   domain.Disposition(strings.ToUpper(disposition)),
					ActorID:       actorFor(svc),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(gs)
			})
		},
	}
	cmd.Flags().StringVar(&applicationID, "application", "", "application id")
	cmd.Flags().StringVar(&stageID, "stage", "", "stage id")
	cmd.Flags().StringVar(&sourceID, "source", "", "source id (evaluation kind, optionally kind/qualifier)")
	cmd.Flags().StringVar(&disposition, "disposition", "", "ALLOW, WARN or BLOCK")
	cmd.Flags().StringVar(&service, "as", string(boundary.ServiceEvaluation), "emitting service (evaluation or interview)")
	return cmd
}

func signalListCmd() *cobra.Command {
	var applicationID, stageID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded signals in emission order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Gateway.Signals(boundary.WithService(ctx, boundary.ServiceReview), applicationID, stageID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Stage", "Source", "Disposition", "Actor", "At"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.Seq, s.StageID, s.SourceID, s.Disposition, s.ActorID, s.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&applicationID, "application", "", "application id")
	cmd.Flags().StringVar(&stageID, "stage", "", "stage id (all stages when empty)")
	return cmd
}

func roundCmd() *cobra.Command {
	r := &cobra.Command{Use: "round", Short: "Interview rounds"}
	r.AddCommand(roundCreateCmd())
	r.AddCommand(roundShowCmd())
	r.AddCommand(roundFeedbackCmd())
	return r
}

func roundCreateCmd() *cobra.Command {
	var applicationID, stageID, kind string
	var interviewers []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Plan an interview round",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				round, err := a.Interview.CreateRound(ctx, interview.CreateRoundInput{
					ApplicationID:  applicationID,
					StageID:        stageID,
					EvaluationKind: kind,
					Interviewers:   interviewers,
					ActorID:        actorFor(boundary.ServiceInterview),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(round)
			})
		},
	}
	cmd.Flags().StringVar(&applicationID, "application", "", "application id")
	cmd.Flags().StringVar(&stageID, "stage", "", "stage id")
	cmd.Flags().StringVar(&kind, "kind", "", "evaluation kind the round reports on")
	cmd.Flags().StringSliceVar(&interviewers, "interviewer", nil, "assigned interviewer (repeatable)")
	return cmd
}

func roundShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <round-id>",
		Short: "Show a round and its feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				round, err := a.Interview.Round(ctx, args[0])
				if err != nil {
					return err
				}
				feedback, err := a.Interview.Feedback(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(server.RoundResponse{Round: round, Feedback: feedback})
			})
		},
	}
	return cmd
}

func roundFeedbackCmd() *cobra.Command {
	var decision, notes string
	cmd := &cobra.Command{
		Use:   "feedback <round-id>",
		Short: "Submit feedback as an assigned interviewer (--actor-id)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Interview.SubmitFeedback(ctx, interview.SubmitFeedbackInput{
					RoundID:     args[0],
					SubmittedBy: viper.GetString("actor-id"),
					Decision:    domain.Decision(strings.ToUpper(decision)),
					Notes:       notes,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "PASS, FAIL or NEUTRAL")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <token>",
		Short: "Show the candidate-facing status for a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Gateway.PublicStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s: %s", p.JobTitle, p.Status)
				if p.StageName != "" {
					fmt.Printf(" (%s)", p.StageName)
				}
				fmt.Printf("\napplied %s, last updated %s\n", p.AppliedAt.Format(time.RFC3339), p.LastUpdatedAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	return cmd
}

func actionsCmd() *cobra.Command {
	ac := &cobra.Command{Use: "actions", Short: "Side-effect actions"}
	ac.AddCommand(actionsListCmd())
	ac.AddCommand(actionsDispatchCmd())
	return ac
}

func actionsListCmd() *cobra.Command {
	var applicationID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List action records for an application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Gateway.Actions(boundary.WithService(ctx, boundary.ServiceReview), applicationID, domain.ActionStatus(status))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Status", "Attempts", "Due", "Last error"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Kind, r.Status, r.Attempts, r.DueAt.Format(time.RFC3339), r.LastError})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&applicationID, "application", "", "application id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func actionsDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Deliver due actions once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Dispatcher.ProcessDue(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Processed %d action(s)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every mutation writes an event in the same transaction: attachments, signals, gate evaluations, transitions, tokens and actions.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.LatestEvents(ctx, repo.EventFilter{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the action dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if basePath != "" {
				cfg.BasePath = basePath
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("HIREGATE_JWT_SECRET is required for bearer auth")
			}
			log := logger.NewStructured(cfg.Log.Level, cfg.Log.Format)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Open(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := server.New(server.Config{
				Gateway:   a.Gateway,
				Intake:    a.Intake,
				Interview: a.Interview,
				Repo:      a.Repo,
				BasePath:  cfg.BasePath,
				Auth:      server.AuthConfig{JWTSecret: cfg.JWTSecret, AllowActorHeader: devAuth, Log: log},
				Log:       log,
			})
			if err != nil {
				return err
			}
			go a.Dispatcher.Run(ctx)

			srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.Info("serving hiregate API", map[string]interface{}{
				"addr":      cfg.Addr,
				"base_path": cfg.BasePath,
				"dev_auth":  devAuth,
			})
			fmt.Printf("Serving Hiregate API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", cfg.Addr, cfg.BasePath, cfg.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "internal API base path (overrides config)")
	cmd.Flags().BoolVar(&devAuth, "dev-auth", false, "accept X-Actor-Id/X-Service-Id headers and enable dev login")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Service, error) {
	cfg, err := config.LoadService(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if ws := viper.GetString("workspace"); ws != "" {
		cfg.Workspace = ws
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, logger.NewStructured(cfg.Log.Level, cfg.Log.Format))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// actorFor returns --actor-id, falling back to the acting service's name.
func actorFor(svc boundary.Service) string {
	if id := viper.GetString("actor-id"); id != "" {
		return id
	}
	return string(svc)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
