package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fieldgate/fieldgate/internal/auth"
	"github.com/fieldgate/fieldgate/internal/config"
	"github.com/fieldgate/fieldgate/internal/schema"
	"github.com/fieldgate/fieldgate/internal/store"
)

// runAdmin dispatches the client and grant subcommands. They talk to
// the same store the server uses, so they run against the live
// database file or DSN from the environment.
func runAdmin(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	switch args[0] {
	case "client":
		return runClient(ctx, st, args[1:])
	case "grant":
		return runGrant(ctx, st, cfg, args[1:])
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func runClient(ctx context.Context, st store.Store, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: fieldgate client <list|activate|deactivate|delete> [client_id]")
	}

	switch args[0] {
	case "list":
		return listClients(ctx, st)

	case "activate", "deactivate":
		if len(args) < 2 {
			return fmt.Errorf("usage: fieldgate client %s <client_id>", args[0])
		}
		if err := st.SetClientActive(ctx, args[1], args[0] == "activate"); err != nil {
			return fmt.Errorf("updating client: %w", err)
		}
		fmt.Printf("client %s %sd\n", args[1], args[0])
		return nil

	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: fieldgate client delete <client_id>")
		}
		if err := st.DeleteClient(ctx, args[1]); err != nil {
			return fmt.Errorf("deleting client: %w", err)
		}
		fmt.Printf("client %s deleted\n", args[1])
		return nil

	default:
		return fmt.Errorf("unknown client subcommand %q", args[0])
	}
}

func listClients(ctx context.Context, st store.Store) error {
	clients, err := st.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("listing clients: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLIENT ID\tNAME\tSCOPE\tACTIVE\tCREATED")
	for _, c := range clients {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			c.ClientID, c.Name, c.Scope, c.IsActive, c.CreatedAt.Format(time.RFC3339))
	}

	return w.Flush()
}

func runGrant(ctx context.Context, st store.Store, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ContinueOnError)
	clientID := fs.String("client", "", "client id to grant access to")
	model := fs.String("model", "", "model name from the schema catalogue")
	fields := fs.String("fields", "", "comma-separated field names")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clientID == "" || *model == "" || *fields == "" {
		return fmt.Errorf("usage: fieldgate grant -client <id> -model <model> -fields <f1,f2>")
	}

	registry, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}

	// Fail up front on a typoed id; the permission row itself carries
	// no foreign key in the bolt backend.
	if _, err := st.GetClient(ctx, *clientID); err != nil {
		return fmt.Errorf("looking up client: %w", err)
	}

	perms := auth.NewPermissions(st, registry)
	permission, err := perms.Grant(ctx, *clientID, *model, strings.Split(*fields, ","))
	if err != nil {
		return fmt.Errorf("granting: %w", err)
	}

	fmt.Printf("granted %s on %s: %s\n",
		*clientID, permission.Model, strings.Join(permission.Fields, ", "))

	return nil
}
