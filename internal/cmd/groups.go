package cmd

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/flo-mic/spidergroup/internal/groups"
	"github.com/flo-mic/spidergroup/internal/version"
)

// Groups lists saved spider groups, or deletes one with --delete.
func Groups(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("groups", flag.ContinueOnError)
	fs.SetOutput(stderr)
	del := fs.String("delete", "", "Delete the named group")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	store := groups.NewFileStore(cfg.GroupsDir)

	if *del != "" {
		if err := store.Delete(*del); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "[spidergroup] Deleted group %q\n", *del)
		return nil
	}

	list, err := store.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(stdout, "No spider groups saved. Create one with 'spidergroup pick --save <name>'.")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, g := range list {
		v := g.Version
		if version.IsSentinel(v) {
			v = "latest"
		}
		rows = append(rows, []string{g.Name, g.Node, g.Project, v, strings.Join(g.Spiders, ", "), g.Description})
	}
	fmt.Fprintln(stdout, renderTable([]string{"NAME", "NODE", "PROJECT", "VERSION", "SPIDERS", "DESCRIPTION"}, rows))
	return nil
}
