package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gosuda/custos/internal/domain"
)

// ActionsListOptions holds flags for the actions list command.
type ActionsListOptions struct {
	*RootOptions
	ProtectedType string
	ProtectedID   string
	AgentType     string
	AgentID       string
	Kinds         []string
	Since         time.Duration
	Limit         int
}

// ActionRecord is the JSON form of one printed action.
type ActionRecord struct {
	ID            uuid.UUID       `json:"id"`
	Agent         domain.AgentRef `json:"agent"`
	ProtectedType string          `json:"protected_type"`
	ProtectedID   *uuid.UUID      `json:"protected_id"`
	Kind          string          `json:"kind"`
	Attributes    domain.Snapshot `json:"protected_attributes"`
	PerformedAt   time.Time       `json:"performed_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

func NewActionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Query the action log",
	}
	cmd.AddCommand(newActionsListCommand(rootOpts))
	return cmd
}

func newActionsListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActionsListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print recorded actions, most recent first",
		Long: `Print recorded actions, most recent first.

Examples:
  custos actions list --protected-type note
  custos actions list --protected-type note --protected-id 3f1c... --kind attempted_access
  custos actions list --agent-type user --agent-id 9a0e... --since 24h --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := opts.filter(time.Now())
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			return listActions(cmd.Context(), store.Actions(), f, opts.Format, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.ProtectedType, "protected-type", "", "protected record type")
	cmd.Flags().StringVar(&opts.ProtectedID, "protected-id", "", "protected record id (requires --protected-type)")
	cmd.Flags().StringVar(&opts.AgentType, "agent-type", "", "agent kind")
	cmd.Flags().StringVar(&opts.AgentID, "agent-id", "", "agent id (requires --agent-type)")
	cmd.Flags().StringArrayVar(&opts.Kinds, "kind", nil, "action kind to include (repeatable)")
	cmd.Flags().DurationVar(&opts.Since, "since", 0, "only actions performed within this window")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of actions")

	return cmd
}

func (o *ActionsListOptions) filter(now time.Time) (domain.ActionFilter, error) {
	f := domain.ActionFilter{Limit: o.Limit}

	switch {
	case o.ProtectedID != "" && o.ProtectedType == "":
		return f, NewExitError(ExitCommandError, "--protected-id requires --protected-type")
	case o.ProtectedType != "":
		ref := domain.ProtectedRef{Type: o.ProtectedType}
		if o.ProtectedID != "" {
			id, err := uuid.Parse(o.ProtectedID)
			if err != nil {
				return f, WrapExitError(ExitCommandError, "invalid --protected-id", err)
			}
			ref = domain.NewProtectedRef(o.ProtectedType, id)
		}
		f.Protected = &ref
	}

	switch {
	case o.AgentID != "" && o.AgentType == "":
		return f, NewExitError(ExitCommandError, "--agent-id requires --agent-type")
	case o.AgentType != "":
		ref := domain.SingletonAgent(o.AgentType)
		if o.AgentID != "" {
			id, err := uuid.Parse(o.AgentID)
			if err != nil {
				return f, WrapExitError(ExitCommandError, "invalid --agent-id", err)
			}
			ref = domain.IdentifiedAgent(o.AgentType, id)
		}
		f.Agent = &ref
	}

	for _, k := range o.Kinds {
		kind, err := domain.ParseActionKind(k)
		if err != nil {
			return f, WrapExitError(ExitCommandError, "invalid --kind", err)
		}
		f.Kinds = append(f.Kinds, kind)
	}

	if o.Since > 0 {
		f.Since = now.Add(-o.Since)
	}

	return f, nil
}

func listActions(ctx context.Context, repo domain.ActionRepository, f domain.ActionFilter, format string, w io.Writer) error {
	actions, err := repo.Find(ctx, f)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list actions", err)
	}

	if format == "json" {
		records := make([]ActionRecord, 0, len(actions))
		for _, a := range actions {
			records = append(records, newActionRecord(a))
		}
		return writeJSON(w, records)
	}

	if len(actions) == 0 {
		fmt.Fprintln(w, "No actions found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PERFORMED AT\tKIND\tAGENT\tPROTECTED")
	for _, a := range actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.PerformedAt.UTC().Format(time.RFC3339), a.Kind, a.Agent, a.Protected)
	}
	return tw.Flush()
}

func newActionRecord(a *domain.Action) ActionRecord {
	r := ActionRecord{
		ID:            a.ID,
		Agent:         a.Agent,
		ProtectedType: a.Protected.Type,
		Kind:          string(a.Kind),
		Attributes:    a.Snapshot,
		PerformedAt:   a.PerformedAt,
		CreatedAt:     a.CreatedAt,
	}
	if a.Protected.ID.Valid {
		id := a.Protected.ID.UUID
		r.ProtectedID = &id
	}
	return r
}
