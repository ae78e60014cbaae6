package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const cancelTimeout = 10 * time.Second

func (o *globalOptions) pretty() bool {
	return !o.jsonOut && isTerminal(os.Stdout)
}

func runTUICommand(cmd *cobra.Command, opts *globalOptions) error {
	if !isTerminal(os.Stdout) {
		return errTUINeedsTerminal
	}
	a, err := opts.setup(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()
	return runTUI(cmd.Context(), a.console, a.cfg.API.pollInterval(), a.log)
}

func newTUICmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive console (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUICommand(cmd, opts)
		},
	}
}

type runOptions struct {
	playbook          string
	groups            []string
	hosts             []string
	tags              []string
	detach            bool
	cancelOnInterrupt bool
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [playbook]",
		Short: "Start a playbook and follow its output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				ro.playbook = args[0]
			}
			return runRun(cmd, opts, ro)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&ro.playbook, "playbook", "p", "", "playbook name")
	f.StringSliceVarP(&ro.groups, "group", "g", nil, "inventory group (repeatable, comma separated)")
	f.StringSliceVarP(&ro.hosts, "host", "H", nil, "inventory host (repeatable, comma separated)")
	f.StringSliceVarP(&ro.tags, "tag", "t", nil, "playbook tag (repeatable, comma separated)")
	f.BoolVarP(&ro.detach, "detach", "d", false, "print the execution id and exit")
	f.BoolVar(&ro.cancelOnInterrupt, "cancel-on-interrupt", true, "cancel the execution when interrupted")
	return cmd
}

func runRun(cmd *cobra.Command, opts *globalOptions, ro *runOptions) error {
	ctx := cmd.Context()
	a, err := opts.setup(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sel, err := selectionFrom(flattenLists(ro.groups), flattenLists(ro.hosts), flattenLists(ro.tags))
	if err != nil {
		return err
	}
	if !CanSubmit(strings.TrimSpace(ro.playbook), sel) {
		return errors.New("a playbook and at least one --group or --host are required")
	}

	ctrl := NewSessionController()
	if _, err := a.console.Start(ctx, ctrl, sel, ro.playbook); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	id := ctrl.ExecutionID()
	if ro.detach {
		if opts.pretty() {
			fmt.Fprintln(out, iconOK+" started "+valueStyle.Render(id))
		} else {
			printJSON(out, map[string]interface{}{"execution_id": id, "status": StatusPending})
		}
		return nil
	}

	pretty := opts.pretty()
	if pretty {
		fmt.Fprintln(out, labelStyle.Render("execution ")+valueStyle.Render(id))
	}
	printer := &logPrinter{w: out}
	fopts := FollowOptions{Interval: a.cfg.API.pollInterval(), Log: a.log}
	if pretty {
		fopts.OnUpdate = printer.update
	}
	follower := NewFollower(a.console.API(), ctrl, fopts)

	// The follow loop outlives the interrupt so the cancel can be
	// acknowledged through it.
	followCtx, stopFollow := context.WithCancel(context.WithoutCancel(ctx))
	defer stopFollow()
	go func() {
		select {
		case <-ctx.Done():
		case <-followCtx.Done():
			return
		}
		if !ro.cancelOnInterrupt {
			stopFollow()
			return
		}
		cctx, cancel := context.WithTimeout(followCtx, cancelTimeout)
		defer cancel()
		if err := follower.Cancel(cctx); err != nil && !errors.Is(err, ErrFollowerStopped) {
			a.log.WithError(err).WithField("execution_id", id).Error("cancel on interrupt failed")
			stopFollow()
		}
	}()

	s, err := follower.Run(followCtx)
	if err != nil {
		return fmt.Errorf("follow %s: %w", id, err)
	}
	// ctx is already done after an interrupt; the record must still land.
	a.console.Record(context.WithoutCancel(ctx), s)

	if pretty {
		printer.finish()
		fmt.Fprintln(out, renderStatusIcon(s.Status)+" "+renderStatusBadge(s.Status)+returnCodeSuffix(s.ReturnCode))
	} else {
		printJSON(out, sessionPayload(s, 0))
	}
	if s.Status != StatusSuccess {
		return fmt.Errorf("execution %s finished with status %s", id, s.Status)
	}
	return nil
}

// logPrinter writes only the part of the log not printed yet. When the
// backend rewrites earlier output the whole log is printed again.
type logPrinter struct {
	w       io.Writer
	printed string
}

func (p *logPrinter) update(s ExecutionSession) {
	next := s.Log()
	if next == p.printed {
		return
	}
	if strings.HasPrefix(next, p.printed) {
		fmt.Fprint(p.w, next[len(p.printed):])
	} else {
		fmt.Fprint(p.w, "\n"+next)
	}
	p.printed = next
}

func (p *logPrinter) finish() {
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.w)
	}
}

func returnCodeSuffix(rc *int) string {
	if rc == nil {
		return ""
	}
	return labelStyle.Render(fmt.Sprintf("  rc=%d", *rc))
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "status EXECUTION_ID",
		Short: "Show the status and output of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.console.API().FetchStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !opts.pretty() {
				printJSON(out, reportPayload(report, tail))
				return nil
			}
			renderReportPretty(out, report, tail)
			return nil
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 0, "show only the last N lines of output")
	return cmd
}

func renderReportPretty(w io.Writer, r StatusReport, tail int) {
	var sb strings.Builder
	sb.WriteString(renderStatusBadge(r.Status) + "  " + valueStyle.Render(r.ExecutionID) + returnCodeSuffix(r.ReturnCode) + "\n")
	field := func(label, value string) {
		if value != "" {
			sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-9s ", label)) + valueStyle.Render(value) + "\n")
		}
	}
	field("playbook", r.Playbook)
	field("hosts", strings.Join(r.Hosts, ", "))
	field("tags", strings.Join(r.Tags, ", "))
	field("started", r.StartedAt)
	field("finished", r.FinishedAt)
	s := ExecutionSession{Stdout: r.Stdout, Stderr: r.Stderr}
	if text := tailLines(s.Log(), tail); text != "" {
		sb.WriteString(renderDivider(50) + "\n" + text + "\n")
	}
	fmt.Fprint(w, sb.String())
}

func newCancelCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel EXECUTION_ID",
		Short: "Cancel a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.console.API().Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			if opts.pretty() {
				fmt.Fprintln(cmd.OutOrStdout(), iconOK+" cancelled "+valueStyle.Render(args[0]))
			} else {
				printJSON(cmd.OutOrStdout(), map[string]interface{}{"execution_id": args[0], "cancelled": true})
			}
			return nil
		},
	}
}

func newExecutionsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "executions",
		Short: "List executions known to the executor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			list, err := a.client.Executions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !opts.pretty() {
				printJSON(out, map[string]interface{}{"count": len(list), "executions": list})
				return nil
			}
			if len(list) == 0 {
				fmt.Fprintln(out, labelStyle.Render("no executions"))
				return nil
			}
			for _, r := range list {
				fmt.Fprintf(out, "%s %-36s %-24s %s\n",
					renderStatusIcon(r.Status), r.ExecutionID, truncateStatus(r.Playbook, 24), labelStyle.Render(string(r.Status)))
			}
			return nil
		},
	}
}

func newCatalogCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show inventory groups, hosts, playbooks and tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			cat, loadErr := a.console.LoadCatalog(cmd.Context())
			out := cmd.OutOrStdout()
			if !opts.pretty() {
				printJSON(out, cat)
				return loadErr
			}
			renderCatalogPretty(out, cat)
			return loadErr
		},
	}
}

func renderCatalogPretty(w io.Writer, cat Catalog) {
	var sb strings.Builder
	sb.WriteString(sectionStyle.Render("Groups") + "\n")
	for _, g := range cat.Groups {
		names := make([]string, 0, len(g.Hosts))
		for _, h := range g.Hosts {
			names = append(names, h.Name)
		}
		sb.WriteString("  " + valueStyle.Render(g.Name) + " " + labelStyle.Render(strings.Join(names, ", ")) + "\n")
	}
	sb.WriteString("\n" + sectionStyle.Render("Hosts") + "\n")
	for _, h := range cat.Hosts {
		sb.WriteString(fmt.Sprintf("  %-20s %s\n", h.Name, labelStyle.Render(h.Address())))
	}
	sb.WriteString("\n" + sectionStyle.Render("Playbooks") + "\n")
	for _, pb := range cat.Playbooks {
		sb.WriteString("  " + valueStyle.Render(pb.Label()) + "\n")
	}
	sb.WriteString("\n" + sectionStyle.Render("Tags") + "\n")
	sb.WriteString("  " + strings.Join(cat.SortedTags(), ", ") + "\n")
	fmt.Fprint(w, sb.String())
}

type doctorCheck struct {
	Name   string `json:"name"`
	Level  string `json:"level"`
	Detail string `json:"detail,omitempty"`
}

func newDoctorCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, executor reachability and run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks, ok := runDoctorChecks(cmd.Context(), opts)
			out := cmd.OutOrStdout()
			if !opts.pretty() {
				printJSON(out, map[string]interface{}{"ok": ok, "checks": checks})
			} else {
				renderDoctorPretty(out, resolveConfigPath(opts.configPath), checks, ok)
			}
			if !ok {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
}

func runDoctorChecks(ctx context.Context, opts *globalOptions) ([]doctorCheck, bool) {
	a, err := opts.setup(ctx, false)
	if err != nil {
		return []doctorCheck{{Name: "config", Level: "error", Detail: err.Error()}}, false
	}
	defer a.Close()

	checks := []doctorCheck{{Name: "config", Level: "ok", Detail: a.configPath}}
	ok := true
	if health, err := a.client.Health(ctx); err != nil {
		checks = append(checks, doctorCheck{Name: "executor", Level: "error", Detail: err.Error()})
		ok = false
	} else {
		detail := a.client.BaseURL()
		if status, found := health["status"]; found {
			detail = fmt.Sprintf("%s (%v)", detail, status)
		}
		checks = append(checks, doctorCheck{Name: "executor", Level: "ok", Detail: detail})
		cat, err := a.console.LoadCatalog(ctx)
		if err != nil {
			checks = append(checks, doctorCheck{Name: "catalog", Level: "warn", Detail: err.Error()})
		} else {
			checks = append(checks, doctorCheck{Name: "catalog", Level: "ok", Detail: fmt.Sprintf(
				"%d groups, %d hosts, %d playbooks, %d tags", len(cat.Groups), len(cat.Hosts), len(cat.Playbooks), len(cat.Tags))})
		}
	}
	switch {
	case a.cfg.History.Disabled:
		checks = append(checks, doctorCheck{Name: "history", Level: "warn", Detail: "disabled"})
	default:
		if _, isNop := a.history.(nopHistory); isNop {
			checks = append(checks, doctorCheck{Name: "history", Level: "warn", Detail: "unavailable: " + a.cfg.History.Path})
		} else {
			checks = append(checks, doctorCheck{Name: "history", Level: "ok", Detail: a.cfg.History.Path})
		}
	}
	return checks, ok
}

func renderDoctorPretty(w io.Writer, configPath string, checks []doctorCheck, ok bool) {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Labs Doctor") + "\n")
	sb.WriteString(labelStyle.Render("Config: ") + pathStyle.Render(configPath) + "\n")
	sb.WriteString(renderDivider(50) + "\n\n")
	for _, c := range checks {
		icon := iconOK
		switch c.Level {
		case "warn":
			icon = iconWarn
		case "error":
			icon = iconError
		}
		sb.WriteString("  " + icon + " " + labelStyle.Render(c.Name+": ") + valueStyle.Render(c.Detail) + "\n")
	}
	sb.WriteString("\n")
	if ok {
		sb.WriteString(confirmStyle.Render("✓ All checks passed") + "\n")
	} else {
		sb.WriteString(warnStyle.Render("⚠ Some issues need attention") + "\n")
	}
	fmt.Fprint(w, sb.String())
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var limit int
	var status, playbook string
	cmd := &cobra.Command{
		Use:   "history [EXECUTION_ID]",
		Short: "List finished executions recorded by this console",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				rec, found, err := a.history.Find(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("execution %s not found in history", args[0])
				}
				printJSON(out, rec)
				return nil
			}
			records, err := a.history.List(cmd.Context(), limit, status, playbook)
			if err != nil {
				return err
			}
			if !opts.pretty() {
				printJSON(out, map[string]interface{}{"count": len(records), "executions": records})
				return nil
			}
			if len(records) == 0 {
				fmt.Fprintln(out, labelStyle.Render("no recorded executions"))
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(out, "%s %-36s %-24s %s %s\n",
					renderStatusIcon(r.Status), r.ExecutionID, truncateStatus(r.Playbook, 24),
					labelStyle.Render(r.EndedAt), labelStyle.Render((time.Duration(r.DurationMs) * time.Millisecond).String()))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVarP(&limit, "limit", "n", 20, "maximum records")
	f.StringVar(&status, "status", "", "filter by status")
	f.StringVar(&playbook, "playbook", "", "filter by playbook")
	return cmd
}

func newMCPCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol, so logs go to the log file.
			a, err := opts.setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()
			return runMCP(cmd.Context(), &mcpTools{
				console:  a.console,
				interval: a.cfg.API.pollInterval(),
				log:      a.log,
			})
		},
	}
}

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise the console configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.config()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.pretty() {
				fmt.Fprintln(out, labelStyle.Render("Config: ")+pathStyle.Render(path))
			}
			printJSON(out, cfg)
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file populated with defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(opts.configPath)
			if pathExists(path) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg, _, err := opts.config()
			if err != nil {
				return err
			}
			if err := writeConfig(path, cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), iconOK+" wrote "+pathStyle.Render(path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.AddCommand(initCmd)
	return cmd
}
