package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stageline/internal/app"
	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/migrate"
	"stageline/internal/repo"
	"stageline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stageline CLI",
	Long: `Stageline turns a one-line change request into a staged, quality-gated workflow.
Core concepts:
- Workspace: your .stageline directory holding only the database; configs live in the DB.
- Project: the codebase all iterations, runs, and artifacts belong to.
- Run: one request flowing through classification, planning, development, and validation.
- Category: what kind of request it is (new_project, bug_fix, enhancement, refactor); decides the stage pipeline.
- Stages: the steps that produce artifacts (requirements, designs, implementation notes).
- Quality gates: weighted scorecards at each phase boundary; a gate that fails sends targeted feedback back to the stages that own the failing criteria.
- Iterations: numbered passes over the project; every run gets one, artifacts are versioned inside it.
- Event log: diary of everything that happened, view with 'sl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("STAGELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(iterationCmd())
	rootCmd.AddCommand(artifactCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectInitCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatusCmd())
	return prj
}

func projectInitCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "The scoreboard: latest run, artifact and open-issue counts, current iteration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := e.Config.Project.ID
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				runs, err := e.Repo.ListRuns(ctx, repo.RunFilters{ProjectID: projectID, Limit: 1})
				if err != nil {
					return err
				}
				pctx, err := app.LoadProjectContext(ctx, e.Repo, projectID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":     p.ID,
					"status":         p.Status,
					"artifact_count": len(pctx.ArtifactPaths),
					"open_issues":    len(pctx.OpenIssues),
					"iteration":      pctx.IterationID,
				}
				if len(runs) > 0 {
					out["last_run"] = runs[0]
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				if pctx.IterationID != nil {
					fmt.Printf("Iteration: %s\n", *pctx.IterationID)
				} else {
					fmt.Println("Iteration: none yet")
				}
				fmt.Printf("Artifacts: %d\n", len(pctx.ArtifactPaths))
				fmt.Printf("Open issues: %d\n", len(pctx.OpenIssues))
				if len(runs) > 0 {
					fmt.Printf("Last run: %s [%s] %s\n", runs[0].ID, runs[0].Phase, runs[0].Description)
				}
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect project config",
		Long:  "Config is the rulebook (stored in DB): classifier keywords, stage sequences, specialist triggers, gate thresholds and criterion weights. Import from stageline.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configExportCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configGenerateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpsertProjectConfig(ctx, cfg.Project.ID, data); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the stored config YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw, err := e.Repo.GetProjectConfigYAML(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				fmt.Print(raw)
				return nil
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configGenerateCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a default stageline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault(id))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "my-project", "project id")
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Submit and inspect workflow runs"}
	run.AddCommand(runSubmitCmd())
	run.AddCommand(runListCmd())
	run.AddCommand(runShowCmd())
	run.AddCommand(runReportCmd())
	return run
}

func runSubmitCmd() *cobra.Command {
	var category string
	var skipStages []string
	var thresholds map[string]int
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "submit [description]",
		Short: "Submit a change request and run the workflow",
		Long:  "The whole pipeline runs synchronously: classify, plan, execute stages, evaluate gates, retry where feedback says to. The report prints when it finishes either way.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			description := strings.TrimSpace(strings.Join(args, " "))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req := engine.RunRequest{
					ProjectID:   e.Config.Project.ID,
					Description: description,
					SkipStages:  skipStages,
					ActorID:     viper.GetString("actor-id"),
				}
				if category != "" {
					req.OverrideCategory = domain.RequestCategory(category)
				}
				if cmd.Flags().Changed("max-retries") {
					req.MaxRetries = &maxRetries
				}
				if len(thresholds) > 0 {
					req.ThresholdOverrides = map[domain.Phase]int{}
					for phase, v := range thresholds {
						req.ThresholdOverrides[domain.Phase(phase)] = v
					}
				}
				report, err := e.Execute(ctx, req)
				if err != nil && report.RunID == "" {
					return err
				}
				if printErr := printReport(report); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category override (new_project, bug_fix, enhancement, refactor)")
	cmd.Flags().StringSliceVar(&skipStages, "skip-stage", nil, "stage name to skip (repeatable)")
	cmd.Flags().StringToIntVar(&thresholds, "threshold", nil, "gate threshold override, phase=score")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retry budget override")
	return cmd
}

func runListCmd() *cobra.Command {
	var phase string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.Repo.ListRuns(ctx, repo.RunFilters{
					ProjectID: e.Config.Project.ID,
					Phase:     phase,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Phase", "Category", "Iteration", "Description"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.Phase, r.Category, r.IterationID, r.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "phase filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs")
	return cmd
}

func runShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.Repo.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	return cmd
}

func runReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Show a run's workflow report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.Repo.GetRunReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printReport(report)
			})
		},
	}
	return cmd
}

func printReport(report domain.WorkflowReport) error {
	if viper.GetBool("json") {
		return printJSON(report)
	}
	fmt.Printf("Run %s [%s] %s\n", report.RunID, report.FinalPhase, report.Category)
	if report.IterationID != "" {
		fmt.Printf("Iteration: %s\n", report.IterationID)
	}
	fmt.Printf("Completion: %.0f%%\n", report.Completion*100)
	if len(report.Gates) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Gate", "Score", "Threshold", "Passed", "Severity"})
		for _, g := range report.Gates {
			tw.AppendRow(table.Row{g.Phase, fmt.Sprintf("%.2f", g.Score), g.Threshold, g.Passed, g.Severity})
		}
		tw.Render()
	}
	for _, w := range report.Warnings {
		fmt.Println("warning:", w)
	}
	for _, r := range report.Recommendations {
		fmt.Println("recommend:", r)
	}
	return nil
}

func iterationCmd() *cobra.Command {
	iter := &cobra.Command{Use: "iteration", Short: "Inspect iterations"}
	iter.AddCommand(iterationListCmd())
	return iter
}

func iterationListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List iterations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListIterations(ctx, e.Config.Project.ID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Ordinal", "Category", "Run", "Started"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Ordinal, it.Category, it.RunID, it.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max iterations")
	return cmd
}

func artifactCmd() *cobra.Command {
	art := &cobra.Command{Use: "artifact", Short: "Inspect artifacts"}
	art.AddCommand(artifactListCmd())
	art.AddCommand(artifactShowCmd())
	art.AddCommand(artifactHistoryCmd())
	return art
}

func artifactListCmd() *cobra.Command {
	var f repo.ArtifactFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProjectID = e.Config.Project.ID
				items, err := e.Repo.ListArtifacts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Path", "Kind", "Rev", "Stage", "Iteration"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.LogicalPath, a.Kind, a.Revision, a.Stage, a.IterationID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.IterationID, "iteration", "", "iteration filter")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	cmd.Flags().BoolVar(&f.LatestOnly, "latest", false, "only latest revision per path")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max artifacts")
	return cmd
}

func artifactShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <artifact-id>",
		Short: "Show an artifact with its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetArtifact(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				fmt.Printf("%s (rev %d, %s, stage %s)\n\n", a.LogicalPath, a.Revision, a.Kind, a.Stage)
				fmt.Println(a.Content)
				return nil
			})
		},
	}
	return cmd
}

func artifactHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <logical-path>",
		Short: "Show every revision of one artifact path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ArtifactHistory(ctx, e.Config.Project.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Rev", "ID", "Stage", "Iteration", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.Revision, a.ID, a.Stage, a.IterationID, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func issueCmd() *cobra.Command {
	iss := &cobra.Command{Use: "issue", Short: "Track open issues"}
	iss.AddCommand(issueOpenCmd())
	iss.AddCommand(issueListCmd())
	iss.AddCommand(issueCloseCmd())
	return iss
}

func issueOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <title>",
		Short: "Open an issue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.CreateIssue(ctx, e.Config.Project.ID, strings.Join(args, " "), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	return cmd
}

func issueListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListIssues(ctx, e.Config.Project.ID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Title", "Updated"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Status, it.Title, it.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (open, closed)")
	return cmd
}

func issueCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <issue-id>",
		Short: "Close an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.CloseIssue(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := uuid.NewString()
				record := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				if err := r.InsertAPIKey(ctx, nil, record); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": record.ID, "actor_id": actor, "key": key})
				}
				fmt.Printf("id: %s\nactor: %s\nkey: %s\n", record.ID, actor, key)
				fmt.Println("store the key now; only its hash is kept")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), r, workspace, viper.GetString("project"))
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("STAGELINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowActorHeader,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("STAGELINE_JWT_SECRET is required for bearer auth (or pass --allow-actor-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Stageline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept the unauthenticated X-Actor-Id header")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, r, workspace, viper.GetString("project"))
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
