package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/flo-mic/spidergroup/internal/cascade"
	"github.com/flo-mic/spidergroup/internal/config"
	"github.com/flo-mic/spidergroup/internal/groups"
	"github.com/flo-mic/spidergroup/internal/inventory"
	"github.com/flo-mic/spidergroup/internal/version"
)

// Patchable in tests.
var (
	loadClientConfig = config.LoadClientConfig
	saveClientConfig = config.SaveClientConfig
	newPrompter      = func() prompter { return huhPrompter{} }
	newMachine       = cascade.New
)

// prompter asks the user for one field at a time.
type prompter interface {
	SelectOne(title string, opts []inventory.Option, value *string) error
	SelectMany(title string, opts []inventory.Option, values *[]string) error
}

type huhPrompter struct{}

func (huhPrompter) SelectOne(title string, opts []inventory.Option, value *string) error {
	return huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(title).
			Options(huhOptions(opts)...).
			Value(value),
	)).Run()
}

func (huhPrompter) SelectMany(title string, opts []inventory.Option, values *[]string) error {
	return huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title(title).
			Description("space to toggle, enter to confirm").
			Options(huhOptions(opts)...).
			Value(values).
			Validate(func(v []string) error {
				if len(v) == 0 {
					return fmt.Errorf("pick at least one spider")
				}
				return nil
			}),
	)).Run()
}

func huhOptions(opts []inventory.Option) []huh.Option[string] {
	out := make([]huh.Option[string], 0, len(opts))
	for _, o := range opts {
		if o.Disabled {
			continue
		}
		out = append(out, huh.NewOption(o.Label, o.ID))
	}
	return out
}

// Pick runs the pick subcommand: an interactive node, project, version and
// spider selection, optionally saved as a spider group.
func Pick(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("pick", flag.ContinueOnError)
	fs.SetOutput(stderr)
	save := fs.String("save", "", "Save the selection as a spider group with this name")
	desc := fs.String("description", "", "Description for the saved group")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("no scrapyd nodes configured: run 'spidergroup node add' first")
	}
	var store groups.Store
	if *save != "" {
		store = groups.NewFileStore(cfg.GroupsDir)
		// Fail before the prompts rather than after them.
		if err := groups.ValidateName(*save); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg := inventory.NewRegistry(cfg.Nodes, cfg.RequestTimeout)
	// Three chained fetches at most between two prompts.
	sel, err := runPicker(ctx, reg, reg.Nodes(), newPrompter(), 3*cfg.RequestTimeout+time.Second)
	if err != nil {
		return err
	}

	printSelection(stdout, sel)

	if store != nil {
		g, err := store.Save(groups.Group{
			Name:        *save,
			Description: *desc,
			Node:        sel.Node,
			Project:     sel.Project,
			Version:     sel.Version,
			Spiders:     sel.Spiders,
		})
		if err != nil {
			return fmt.Errorf("saving group: %w", err)
		}
		fmt.Fprintf(stdout, "[spidergroup] Saved group %q\n", g.Name)
	}
	return nil
}

// runPicker drives a cascade machine from prompts, waiting for it to settle
// after every edit so each prompt shows fresh options.
func runPicker(ctx context.Context, inv inventory.Inventory, nodes []inventory.Option, p prompter, settleTimeout time.Duration) (cascade.Selection, error) {
	m := newMachine(ctx, inv, cascade.WithNodes(nodes), cascade.WithLogger(slog.Default()))
	defer m.Close()

	settle := func() (cascade.Selection, error) {
		sctx, cancel := context.WithTimeout(ctx, settleTimeout)
		defer cancel()
		if err := m.Settle(sctx); err != nil {
			return cascade.Selection{}, fmt.Errorf("waiting for inventory: %w", err)
		}
		sel := m.Snapshot()
		if sel.Err != nil {
			return sel, fmt.Errorf("%s: %w", sel.ErrField, sel.Err)
		}
		return sel, nil
	}

	var node string
	if err := p.SelectOne("Node", nodes, &node); err != nil {
		return cascade.Selection{}, err
	}
	if err := m.SetNode(node); err != nil {
		return cascade.Selection{}, fmt.Errorf("selecting node: %w", err)
	}
	sel, err := settle()
	if err != nil {
		return sel, err
	}
	if err := noticeError(sel, cascade.FieldProject); err != nil {
		return sel, err
	}
	if len(sel.Options[cascade.FieldProject]) == 0 {
		return sel, fmt.Errorf("no projects deployed on node %q", node)
	}

	var project string
	if err := p.SelectOne("Project", sel.Options[cascade.FieldProject], &project); err != nil {
		return sel, err
	}
	if err := m.SetProject(project); err != nil {
		return sel, fmt.Errorf("selecting project: %w", err)
	}
	if sel, err = settle(); err != nil {
		return sel, err
	}
	if err := noticeError(sel, cascade.FieldVersion); err != nil {
		return sel, err
	}

	// The auto-latest option is pre-selected and its spiders already loaded.
	chosen := sel.Version
	if selectable(sel.Options[cascade.FieldVersion]) > 0 {
		if err := p.SelectOne("Version", sel.Options[cascade.FieldVersion], &chosen); err != nil {
			return sel, err
		}
	}
	if chosen != sel.Version {
		if err := m.SetVersion(chosen); err != nil {
			return sel, fmt.Errorf("selecting version: %w", err)
		}
		if sel, err = settle(); err != nil {
			return sel, err
		}
	}
	if err := noticeError(sel, cascade.FieldSpiders); err != nil {
		return sel, err
	}
	if len(sel.Options[cascade.FieldSpiders]) == 0 {
		return sel, fmt.Errorf("project %q has no spiders at version %q", project, sel.Version)
	}

	var spiders []string
	if err := p.SelectMany("Spiders", sel.Options[cascade.FieldSpiders], &spiders); err != nil {
		return sel, err
	}
	if err := m.SetSpiders(spiders); err != nil {
		return sel, fmt.Errorf("selecting spiders: %w", err)
	}
	if sel, err = settle(); err != nil {
		return sel, err
	}
	if len(sel.Spiders) == 0 {
		return sel, errors.New("no spiders selected")
	}
	return sel, nil
}

func selectable(opts []inventory.Option) int {
	n := 0
	for _, o := range opts {
		if !o.Disabled {
			n++
		}
	}
	return n
}

func noticeError(sel cascade.Selection, f cascade.Field) error {
	for _, n := range sel.Notices {
		if n.Field == f {
			return fmt.Errorf("%s: %s", f, n.Message)
		}
	}
	return nil
}

func printSelection(w io.Writer, sel cascade.Selection) {
	v := sel.Version
	if version.IsSentinel(v) {
		v += " (latest at dispatch)"
	}
	fmt.Fprintf(w, "node:    %s\n", sel.Node)
	fmt.Fprintf(w, "project: %s\n", sel.Project)
	fmt.Fprintf(w, "version: %s\n", v)
	fmt.Fprintf(w, "spiders: %s\n", strings.Join(sel.Spiders, ", "))
}
