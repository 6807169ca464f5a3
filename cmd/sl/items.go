package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stepline/internal/app"
	"stepline/internal/config"
	"stepline/internal/db"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/ingest"
	"stepline/internal/migrate"
)

func initCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and a default stepline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(prefix)), 0o644); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				current, err := migrate.CurrentVersion(ctx, ws.DB)
				if err != nil {
					return err
				}
				latest, err := migrate.Latest()
				if err != nil {
					return err
				}
				out := map[string]any{"workspace": ws.Dir, "config": path, "database": db.Path(ws.Dir), "schema_version": current, "latest_version": latest}
				return printJSONOrText(out, fmt.Sprintf("initialized %s (config %s, schema v%d of %d)", db.Path(ws.Dir), path, current, latest))
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "prefix for generated root ids")
	return cmd
}

func importCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a tree from a YAML or JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := ingest.ParseFile(file)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.ImportTree(ctx, tree, actorID())
				if err != nil {
					return err
				}
				return printJSONOrText(res, ingest.Summary(res))
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "tree document")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func rootsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roots",
		Short: "List trees in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				roots, err := ws.Engine.Roots(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roots)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Created"})
				for _, r := range roots {
					tw.AppendRow(table.Row{r.ID, r.Title, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Manage items"}
	item.AddCommand(itemAddCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemTreeCmd())
	item.AddCommand(itemRemoveCmd())
	return item
}

func itemAddCmd() *cobra.Command {
	var opts engine.CreateItemOptions
	var typ string
	var priority int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an item; without --parent it starts a new tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Type = domain.ItemType(strings.ToUpper(typ))
			opts.ActorID = actorID()
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				it, err := ws.Engine.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrText(it, fmt.Sprintf("created %s %q", it.ID, it.Title))
			})
		},
	}
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent item id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Content, "content", "", "content")
	cmd.Flags().StringVar(&typ, "type", "", "ROOT, PHASE, UNIT or SUBUNIT")
	cmd.Flags().IntVar(&priority, "priority", 2, "priority (0 is highest)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an item with the actor's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				it, err := ws.Engine.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				p, err := ws.Engine.GetProgress(ctx, it.ID, actorID())
				if err != nil {
					return err
				}
				deps, err := ws.Engine.Dependencies(ctx, it.ID, domain.EdgeBlocks)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"item": it, "progress": p, "blocks_on": deps})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"ID", it.ID},
					{"Title", it.Title},
					{"Type", it.Type},
					{"Priority", it.Priority},
					{"Status", statusLabel(p.Status)},
				})
				if it.Criteria != nil {
					tw.AppendRow(table.Row{"Criteria", it.Criteria.Mode})
				}
				for _, d := range deps {
					tw.AppendRow(table.Row{"Blocks on", d.ToID})
				}
				tw.Render()
				if it.Content != "" {
					fmt.Println(it.Content)
				}
				return nil
			})
		},
	}
}

func itemTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [id]",
		Short: "Show a tree with the actor's statuses; ready items are marked",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				var id string
				if len(args) == 1 {
					id = args[0]
				} else {
					root, err := resolveRoot(ctx, ws)
					if err != nil {
						return err
					}
					id = root.ID
				}
				items, err := ws.Engine.Tree(ctx, id)
				if err != nil {
					return err
				}
				progress, err := ws.Engine.Repo.ProgressForTree(ctx, nil, items[0].RootID, actorID())
				if err != nil {
					return err
				}
				ready, err := ws.Engine.ReadyWork(ctx, engine.ReadyOptions{ScopeID: items[0].RootID, ActorID: actorID()})
				if err != nil {
					return err
				}
				readySet := map[string]bool{}
				for _, r := range ready {
					readySet[r.Item.ID] = true
				}
				children := map[string][]domain.Item{}
				for _, it := range items {
					if !it.IsRoot() {
						children[*it.ParentID] = append(children[*it.ParentID], it)
					}
				}
				if viper.GetBool("json") {
					type Node struct {
						Item     domain.Item   `json:"item"`
						Status   domain.Status `json:"status"`
						Ready    bool          `json:"ready"`
						Children []Node        `json:"children,omitempty"`
					}
					var build func(it domain.Item) Node
					build = func(it domain.Item) Node {
						n := Node{Item: it, Status: progress.Status(it.ID), Ready: readySet[it.ID]}
						for _, c := range children[it.ID] {
							n.Children = append(n.Children, build(c))
						}
						return n
					}
					return printJSON(build(items[0]))
				}
				printItemTree(items[0], children, func(it domain.Item) string {
					return treeLabel(it, progress.Status(it.ID), readySet[it.ID])
				}, "", true)
				return nil
			})
		},
	}
}

func itemRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an item with its subtree, edges and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Engine.DeleteItem(ctx, args[0], actorID()); err != nil {
					return err
				}
				return printJSONOrText(map[string]string{"deleted": args[0]}, "deleted "+args[0])
			})
		},
	}
}

func edgeCmd() *cobra.Command {
	edge := &cobra.Command{Use: "edge", Short: "Manage dependency edges"}
	edge.AddCommand(edgeAddCmd())
	edge.AddCommand(edgeRemoveCmd())
	edge.AddCommand(edgeListCmd())
	edge.AddCommand(edgeDependentsCmd())
	edge.AddCommand(edgeCyclesCmd())
	return edge
}

func edgeAddCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "add <from> <to>",
		Short: "Record that <from> cannot start until <to> is closed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				e, err := ws.Engine.AddEdge(ctx, args[0], args[1], domain.EdgeKind(strings.ToUpper(kind)), actorID())
				if err != nil {
					return err
				}
				return printJSONOrText(e, fmt.Sprintf("%s %s %s", e.FromID, e.Kind, e.ToID))
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(domain.EdgeBlocks), "BLOCKS or RELATED")
	return cmd
}

func edgeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <from> <to>",
		Short: "Remove every edge from <from> to <to>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				removed, err := ws.Engine.RemoveEdge(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrText(removed, fmt.Sprintf("removed %d edge(s)", len(removed)))
			})
		},
	}
}

func edgeListCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list <id>",
		Short: "List what an item depends on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				edges, err := ws.Engine.Dependencies(ctx, args[0], domain.EdgeKind(strings.ToUpper(kind)))
				if err != nil {
					return err
				}
				return renderEdges(edges)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "BLOCKS or RELATED (default both)")
	return cmd
}

func edgeDependentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dependents <id>",
		Short: "List items waiting on an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				edges, err := ws.Engine.Dependents(ctx, args[0])
				if err != nil {
					return err
				}
				return renderEdges(edges)
			})
		},
	}
}

func edgeCyclesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycles",
		Short: "Sweep a tree's BLOCKS edges for cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				root, err := resolveRoot(ctx, ws)
				if err != nil {
					return err
				}
				cycles, err := ws.Engine.DetectCycles(ctx, root.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cycles)
				}
				if len(cycles) == 0 {
					fmt.Println("no cycles")
					return nil
				}
				for _, c := range cycles {
					fmt.Println(strings.Join(c, " -> ") + " -> " + c[0])
				}
				return nil
			})
		},
	}
}

func renderEdges(edges []domain.Edge) error {
	if viper.GetBool("json") {
		return printJSON(edges)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"From", "Kind", "To", "Created"})
	for _, e := range edges {
		tw.AppendRow(table.Row{e.FromID, e.Kind, e.ToID, e.CreatedAt})
	}
	tw.Render()
	return nil
}
