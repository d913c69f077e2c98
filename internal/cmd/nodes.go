package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/flo-mic/spidergroup/internal/config"
	"github.com/flo-mic/spidergroup/internal/inventory"
	"github.com/flo-mic/spidergroup/internal/scrapyd"
)

// Nodes prints the daemon status of every configured node.
func Nodes(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("nodes", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	if len(cfg.Nodes) == 0 {
		fmt.Fprintln(stdout, "No nodes configured. Add one with 'spidergroup node add'.")
		return nil
	}

	reg := inventory.NewRegistry(cfg.Nodes, cfg.RequestTimeout)
	statuses := reg.Status(context.Background())

	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		state := onlineStyle.Render("online")
		detail := fmt.Sprintf("%d pending, %d running, %d finished", st.Pending, st.Running, st.Finished)
		if !st.Online {
			state = offlineStyle.Render("offline")
			detail = st.Error
		}
		rows = append(rows, []string{st.Node.ID, st.Node.Label, st.URL, state, detail})
	}
	fmt.Fprintln(stdout, renderTable([]string{"ID", "NAME", "URL", "STATUS", "JOBS"}, rows))
	return nil
}

// NodeAdd registers a scrapyd node in the client config. Missing flags are
// asked for interactively.
func NodeAdd(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("node add", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "Node id (required, unique)")
	name := fs.String("name", "", "Display name")
	host := fs.String("host", "", "scrapyd host")
	port := fs.Int("port", config.DefaultNodePort, "scrapyd port")
	ssl := fs.Bool("ssl", false, "Use https")
	username := fs.String("username", "", "HTTP basic auth user (enables auth)")
	skipCheck := fs.Bool("no-check", false, "Do not contact the daemon before saving")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	node := config.NodeConfig{ID: *id, Name: *name, Host: *host, Port: *port, SSL: *ssl}
	if *username != "" {
		node.Auth = true
		node.Username = *username
	}
	if node.ID == "" || node.Host == "" {
		if err := promptNode(&node); err != nil {
			return err
		}
	}
	for _, n := range cfg.Nodes {
		if n.ID == node.ID {
			return fmt.Errorf("node %q already exists", node.ID)
		}
	}

	if !*skipCheck {
		fmt.Fprintf(stdout, "[spidergroup] Connecting to %s...\n", node.URL())
		user, pass := node.Credentials()
		st, err := scrapyd.NewClient(node.URL(), user, pass, cfg.RequestTimeout).DaemonStatus(context.Background())
		if err != nil {
			return fmt.Errorf("cannot reach scrapyd at %s: %w (use --no-check to save anyway)", node.URL(), err)
		}
		fmt.Fprintf(stdout, "[spidergroup] Connected to %s.\n", st.NodeName)
	}

	cfg.Nodes = append(cfg.Nodes, node)
	if err := saveClientConfig(cfg); err != nil {
		return fmt.Errorf("saving client config: %w", err)
	}
	fmt.Fprintf(stdout, "[spidergroup] Added node %q (%s)\n", node.ID, node.URL())
	return nil
}

func promptNode(node *config.NodeConfig) error {
	portStr := strconv.Itoa(node.Port)
	notEmpty := func(what string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s cannot be empty", what)
			}
			return nil
		}
	}

	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Node id").
				Placeholder("scraper-1").
				Value(&node.ID).
				Validate(notEmpty("id")),
			huh.NewInput().
				Title("Display name").
				Value(&node.Name),
			huh.NewInput().
				Title("scrapyd host").
				Placeholder("192.168.1.x").
				Value(&node.Host).
				Validate(notEmpty("host")),
			huh.NewInput().
				Title("scrapyd port").
				Value(&portStr).
				Validate(validatePort),
			huh.NewConfirm().
				Title("Use https?").
				Value(&node.SSL),
			huh.NewConfirm().
				Title("Does scrapyd require HTTP basic auth?").
				Value(&node.Auth),
		),
	).Run(); err != nil {
		return err
	}
	node.Port, _ = strconv.Atoi(portStr)

	if !node.Auth {
		return nil
	}
	return huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Username").
			Value(&node.Username).
			Validate(notEmpty("username")),
		huh.NewInput().
			Title("Password").
			Description(fmt.Sprintf("Leave empty to use %s at runtime", config.PasswordEnv(node.ID))).
			EchoMode(huh.EchoModePassword).
			Value(&node.Password),
	)).Run()
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("must be a port number")
	}
	return nil
}
