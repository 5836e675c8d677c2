package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"grantline/internal/app"
	"grantline/internal/config"
	"grantline/internal/db"
	"grantline/internal/domain"
	"grantline/internal/ingest"
	"grantline/internal/repo"
	"grantline/internal/resolve"
	"grantline/internal/schedule"
	"grantline/internal/semantics"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Grantline CLI",
	Long: `Grantline ingests flat writing-schedule rows and reconciles them into
normalized grant entities: organizations, people, statuses, and typed tasks
(LOI, Proposal, Report, Reminder, Prospect). Re-importing the same rows is
idempotent; reference records are created once and reused.`,
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
	viper.SetEnvPrefix("GRANTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(personCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(opportunityCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(configCmd())
}

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func importCmd() *cobra.Command {
	var (
		source      string
		tableName   string
		concurrency int
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import rows from a writing-schedule database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				src, err := db.OpenPath(source)
				if err != nil {
					return err
				}
				defer src.Close()
				tbl := tableName
				if tbl == "" {
					tbl = env.Config.Source.Table
				}
				rows, err := schedule.Source{DB: src, Table: tbl}.Fetch(ctx, limit)
				if err != nil {
					return err
				}
				workers := concurrency
				if workers == 0 {
					workers = env.Config.Ingest.Concurrency
				}
				runner := ingest.Runner{
					Orchestrator: ingest.New(env.DB, env.Config.Source.System),
					Concurrency:  workers,
				}
				summary, err := runner.Run(ctx, rows)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Run", "Processed", "Failed", "Skipped", "New Orgs", "New People", "New Statuses"})
				tw.AppendRow(table.Row{summary.RunID, summary.Processed, summary.Failed, summary.Skipped, summary.NewOrgs, summary.NewPeople, summary.NewStatuses})
				tw.Render()
				for _, res := range summary.Results {
					if res.Err != nil {
						fmt.Printf("failed: %v\n", res.Err)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "path to the source sqlite database")
	cmd.Flags().StringVar(&tableName, "table", "", "source table (default from config)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "ingest workers (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows to import (0 = all)")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Inspect and link tasks"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	cmd.AddCommand(taskLinkCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var (
		typeFlag   string
		orgKey     string
		fiscalYear string
		actionable bool
		followUp   bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r := repo.Repo{DB: env.DB}
				var f repo.TaskFilters
				if typeFlag != "" {
					t, ok := domain.ParseTaskType(typeFlag)
					if !ok {
						return fmt.Errorf("unknown task type %q", typeFlag)
					}
					f.Type = t
				}
				if orgKey != "" {
					org, err := r.GetOrgByKey(ctx, orgKey)
					if err != nil {
						return fmt.Errorf("organization %s: %w", orgKey, err)
					}
					f.OrgID = org.ID
				}
				f.FiscalYear = fiscalYear
				f.Limit = limit
				tasks, err := r.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				interp := semantics.New(env.Config)
				if actionable || followUp {
					var kept []domain.Task
					for _, t := range tasks {
						c := t.Core()
						fact := interp.Interpret(c.StatusID, c.Type)
						if actionable && !fact.Actionable {
							continue
						}
						if followUp && !fact.NeedsFollowUp {
							continue
						}
						kept = append(kept, t)
					}
					tasks = kept
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				orgNames, err := orgNameIndex(ctx, r)
				if err != nil {
					return err
				}
				statusTexts, err := statusTextIndex(ctx, r)
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Type", "Organization", "Status", "Deadline", "Actionable"})
				for _, t := range tasks {
					c := t.Core()
					fact := interp.Interpret(c.StatusID, c.Type)
					tw.AppendRow(table.Row{
						c.TaskID, c.Type, orgNames[c.OrgID], statusTexts[c.StatusID],
						c.Deadline.Format("2006-01-02"), fact.Actionable,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typeFlag, "type", "", "task type filter")
	cmd.Flags().StringVar(&orgKey, "org", "", "organization natural key filter")
	cmd.Flags().StringVar(&fiscalYear, "fiscal-year", "", "fiscal year filter")
	cmd.Flags().BoolVar(&actionable, "actionable", false, "only actionable tasks")
	cmd.Flags().BoolVar(&followUp, "follow-up", false, "only tasks needing follow-up")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r := repo.Repo{DB: env.DB}
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				c := t.Core()
				orgNames, err := orgNameIndex(ctx, r)
				if err != nil {
					return err
				}
				statusTexts, err := statusTextIndex(ctx, r)
				if err != nil {
					return err
				}
				fact := semantics.New(env.Config).Interpret(c.StatusID, c.Type)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRow(table.Row{"Task", c.TaskID})
				tw.AppendRow(table.Row{"Type", c.Type})
				tw.AppendRow(table.Row{"Organization", orgNames[c.OrgID]})
				tw.AppendRow(table.Row{"Status", statusTexts[c.StatusID]})
				tw.AppendRow(table.Row{"Deadline", c.Deadline.Format("2006-01-02")})
				if c.FiscalYear != "" {
					tw.AppendRow(table.Row{"Fiscal Year", c.FiscalYear})
				}
				tw.AppendRow(table.Row{"Actionable", fact.Actionable})
				tw.AppendRow(table.Row{"Needs Follow-up", fact.NeedsFollowUp})
				tw.Render()
				return nil
			})
		},
	}
}

func taskLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <task-id> <proposal-id>",
		Short: "Link an LOI or Report to its proposal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r := repo.Repo{DB: env.DB}
				if err := r.LinkTasks(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("linked %s -> %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func orgCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "org", Short: "Inspect organizations"}
	cmd.AddCommand(orgAddCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r := repo.Repo{DB: env.DB}
				orgs, err := r.ListOrgs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Natural Key", "Canonical Name"})
				for _, o := range orgs {
					tw.AppendRow(table.Row{o.ID, o.NaturalKey, o.CanonicalName})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <natural-key>",
		Short: "Show one organization with aliases and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r := repo.Repo{DB: env.DB}
				org, err := r.GetOrgByKey(ctx, args[0])
				if err != nil {
					return err
				}
				tasks, err := r.ListTasks(ctx, repo.TaskFilters{OrgID: org.ID})
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"organization": org, "tasks": tasks})
			})
		},
	})
	return cmd
}

func orgAddCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <natural-key>",
		Short: "Register an organization ahead of ingest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				key := args[0]
				if !domain.ValidOrgKey(key) {
					return fmt.Errorf("natural key %q is not a Bernie number (BN followed by six hex digits)", key)
				}
				r := repo.Repo{DB: env.DB}
				res := resolve.New(r)
				tx, err := env.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				id, created, err := res.Organization(ctx, tx, key, name)
				if err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if created {
					fmt.Printf("organization %d created for %s\n", id, key)
				} else {
					fmt.Printf("organization %s already registered (id %d)\n", key, id)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "canonical display name")
	return cmd
}

func personCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "person", Short: "Inspect team members"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List team members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r := repo.Repo{DB: env.DB}
				people, err := r.ListPeople(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(people)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Full Name", "Short Name"})
				for _, p := range people {
					tw.AppendRow(table.Row{p.ID, p.FullName, p.ShortName})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func statusCmd() *cobra.Command {
	var interpretFor string
	cmd := &cobra.Command{Use: "status", Short: "Inspect the status registry"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r := repo.Repo{DB: env.DB}
				statuses, err := r.ListStatuses(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(statuses)
				}
				var interp *semantics.Interpreter
				var taskType domain.TaskType
				if interpretFor != "" {
					t, ok := domain.ParseTaskType(interpretFor)
					if !ok {
						return fmt.Errorf("unknown task type %q", interpretFor)
					}
					taskType = t
					interp = semantics.New(env.Config)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				if interp != nil {
					tw.AppendHeader(table.Row{"ID", "Text", "Source", "Actionable", "Follow-up", "Successful"})
				} else {
					tw.AppendHeader(table.Row{"ID", "Text", "Source", "First Seen"})
				}
				for _, s := range statuses {
					if interp != nil {
						fact := interp.Interpret(s.ID, taskType)
						successful := "unknown"
						if fact.Successful != nil {
							successful = fmt.Sprintf("%v", *fact.Successful)
						}
						tw.AppendRow(table.Row{s.ID, s.Text, s.SourceSystem, fact.Actionable, fact.NeedsFollowUp, successful})
					} else {
						tw.AppendRow(table.Row{s.ID, s.Text, s.SourceSystem, s.FirstSeenAt.Format(time.RFC3339)})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&interpretFor, "interpret", "", "show workflow facts for a task type")
	cmd.AddCommand(list)
	return cmd
}

func opportunityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "opportunity", Short: "Curate funding relationships"}
	cmd.AddCommand(opportunityCreateCmd())
	cmd.AddCommand(opportunityAssignCmd())
	cmd.AddCommand(opportunityShowCmd())
	return cmd
}

func opportunityCreateCmd() *cobra.Command {
	var orgKey, name, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an opportunity for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r := repo.Repo{DB: env.DB}
				org, err := r.GetOrgByKey(ctx, orgKey)
				if err != nil {
					return fmt.Errorf("organization %s: %w", orgKey, err)
				}
				id, err := r.InsertOpportunity(ctx, org.ID, name, description, time.Now())
				if err != nil {
					return err
				}
				fmt.Printf("opportunity %d created for %s\n", id, org.CanonicalName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgKey, "org", "", "organization natural key")
	cmd.Flags().StringVar(&name, "name", "", "opportunity name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func opportunityAssignCmd() *cobra.Command {
	var oppID int64
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign a task to an opportunity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r := repo.Repo{DB: env.DB}
				if err := r.AssignOpportunity(ctx, args[0], oppID); err != nil {
					return err
				}
				fmt.Printf("task %s assigned to opportunity %d\n", args[0], oppID)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&oppID, "opportunity", 0, "opportunity id")
	_ = cmd.MarkFlagRequired("opportunity")
	return cmd
}

func opportunityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an opportunity with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				var id int64
				if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
					return fmt.Errorf("invalid opportunity id %q", args[0])
				}
				r := repo.Repo{DB: env.DB}
				opp, err := r.GetOpportunity(ctx, id)
				if err != nil {
					return err
				}
				tasks, err := r.ListTasks(ctx, repo.TaskFilters{OpportunityID: id})
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"opportunity": opp, "tasks": tasks})
			})
		},
	}
}

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{Use: "runs", Short: "Inspect ingest runs"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List ingest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r := repo.Repo{DB: env.DB}
				runs, err := r.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Run", "Source", "Started", "Processed", "Failed", "New Orgs", "New People", "New Statuses"})
				for _, run := range runs {
					tw.AppendRow(table.Row{run.ID, run.SourceSystem, run.StartedAt.Format(time.RFC3339), run.Processed, run.Failed, run.NewOrgs, run.NewPeople, run.NewStatuses})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "max runs")
	cmd.AddCommand(list)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage grantline.yml"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default grantline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			return printJSON(cfg)
		},
	})
	return cmd
}

func orgNameIndex(ctx context.Context, r repo.Repo) (map[int64]string, error) {
	orgs, err := r.ListOrgs(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[int64]string, len(orgs))
	for _, o := range orgs {
		idx[o.ID] = o.CanonicalName
	}
	return idx, nil
}

func statusTextIndex(ctx context.Context, r repo.Repo) (map[int64]string, error) {
	statuses, err := r.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[int64]string, len(statuses))
	for _, s := range statuses {
		idx[s.ID] = s.Text
	}
	return idx, nil
}
