package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stepline/internal/app"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/repo"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start an item if nothing blocks it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.StartItem(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrText(res, res.Message)
			})
		},
	}
}

func closeCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close an item through the completion gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.Transition(ctx, args[0], actorID(), domain.StatusClosed, reason)
				if err != nil {
					return err
				}
				return printJSONOrText(res, transitionText(res))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "close reason")
	return cmd
}

func reopenCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a closed item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.ReopenItem(ctx, args[0], actorID(), reason)
				if err != nil {
					return err
				}
				return printJSONOrText(res, fmt.Sprintf("%s is %s", args[0], statusLabel(res.NewStatus)))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reopen reason")
	return cmd
}

func statusMoveCmd(use, short string, to domain.Status) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.Transition(ctx, args[0], actorID(), to, reason)
				if err != nil {
					return err
				}
				return printJSONOrText(res, transitionText(res))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func transitionCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "transition <id> <status>",
		Short: "Apply a raw status transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.Transition(ctx, args[0], actorID(), to, reason)
				if err != nil {
					return err
				}
				return printJSONOrText(res, transitionText(res))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func submitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	var file string
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit evidence for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ItemID = args[0]
			opts.ActorID = actorID()
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				opts.Content = string(data)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.SubmitEvidence(ctx, opts)
				if err != nil {
					return err
				}
				verdict := "rejected: " + res.Message
				if res.ValidationPassed {
					verdict = "accepted"
				}
				text := fmt.Sprintf("attempt %d %s", res.AttemptNumber, verdict)
				if res.Closed != nil {
					text += "\n" + transitionText(*res.Closed)
				}
				if res.CloseSkipped != "" {
					text += "\nnot closed: " + res.CloseSkipped
				}
				return printJSONOrText(res, text)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Content, "content", "", "evidence text")
	cmd.Flags().StringVar(&file, "file", "", "read evidence from a file")
	cmd.Flags().StringVar(&opts.ContentKind, "kind", "", "content kind (defaults to config validation.default_content_kind)")
	cmd.Flags().BoolVar(&opts.CloseOnPass, "close", false, "close the item when the evidence passes")
	return cmd
}

func submissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submissions <id>",
		Short: "List the actor's evidence attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				subs, err := ws.Engine.Submissions(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(subs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Attempt", "Kind", "Passed", "Message", "At"})
				for _, s := range subs {
					tw.AppendRow(table.Row{s.Attempt, s.ContentKind, s.Passed, s.ErrorMessage, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func canCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can-close <id>",
		Short: "Ask the completion gate whether the actor may close an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				d, err := ws.Engine.CanClose(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				text := "yes"
				if !d.Allowed {
					text = "no: " + d.Reason
				}
				return printJSONOrText(d, text)
			})
		},
	}
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <id>",
		Short: "Show the actor's progress record for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.GetProgress(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"Item", p.ItemID},
					{"Actor", p.ActorID},
					{"Status", statusLabel(p.Status)},
					{"Started", deref(p.StartedAt)},
					{"Completed", deref(p.CompletedAt)},
					{"Reason", deref(p.CloseReason)},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func readyCmd() *cobra.Command {
	var types []string
	var limit int
	cmd := &cobra.Command{
		Use:   "ready [scope-id]",
		Short: "List items the actor can start now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var itemTypes []domain.ItemType
			for _, t := range types {
				itemTypes = append(itemTypes, domain.ItemType(strings.ToUpper(strings.TrimSpace(t))))
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				var scope string
				if len(args) == 1 {
					scope = args[0]
				} else {
					root, err := resolveRoot(ctx, ws)
					if err != nil {
						return err
					}
					scope = root.ID
				}
				items, err := ws.Engine.GetReadyWork(ctx, scope, actorID(), itemTypes, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				if len(items) == 0 {
					fmt.Println("nothing ready")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Priority", "Status"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.Item.ID, r.Item.Title, r.Item.Type, r.Item.Priority, statusLabel(r.Status)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "item types to include (repeat or comma separate)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum items (0 uses config ready.default_limit)")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var since int64
	var f repo.EventFilter
	var all bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if !all {
					root, err := resolveRoot(ctx, ws)
					if err != nil {
						return err
					}
					f.RootID = root.ID
				}
				var events []domain.Event
				var err error
				if since > 0 {
					events, err = ws.Engine.Repo.EventsAfter(ctx, n, since, f)
				} else {
					events, err = ws.Engine.Repo.LatestEvents(ctx, n, 0, f)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + " " + e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.ActorID, "by", "", "only events caused by this actor")
	cmd.Flags().BoolVar(&all, "all", false, "events of every tree")
	cmd.Flags().Int64Var(&since, "since", 0, "events after this id, oldest first")
	return cmd
}

func transitionText(res engine.TransitionResult) string {
	text := fmt.Sprintf("%s: %s -> %s", res.ItemID, statusLabel(res.From), statusLabel(res.To))
	if len(res.AutoClosed) > 0 {
		text += "\nauto-closed " + strings.Join(res.AutoClosed, ", ")
	}
	return text
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
