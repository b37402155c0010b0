package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gosuda/custos/internal/config"
	"github.com/gosuda/custos/internal/domain"
)

// AgentsCreateOptions holds flags for the agents create command.
type AgentsCreateOptions struct {
	*RootOptions
	Kind string
	Name string
	Role string
}

var (
	principalKinds = []string{domain.KindUser, domain.KindService}
	principalRoles = []string{domain.RoleAdmin, domain.RoleClinician, domain.RoleAuditor}
)

func NewAgentsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage stored agents",
	}
	cmd.AddCommand(newAgentsCreateCommand(rootOpts))
	return cmd
}

func newAgentsCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AgentsCreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Store a new principal and print a bearer token for it",
		Long: `Store a new principal and print a bearer token for it.

Examples:
  custos agents create --name "Dr. Reyes" --role clinician
  custos agents create --kind service --name billing-sync --role auditor --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
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

			return createAgent(cmd.Context(), store.Principals(), opts, cfg.JWT, time.Now(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", domain.KindUser, "agent kind (user|service)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role (admin|clinician|auditor, required)")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

func (o *AgentsCreateOptions) validate() error {
	if !slices.Contains(principalKinds, o.Kind) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --kind %q: must be one of %v", o.Kind, principalKinds))
	}
	if !slices.Contains(principalRoles, o.Role) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --role %q: must be one of %v", o.Role, principalRoles))
	}
	if o.Name == "" {
		return NewExitError(ExitCommandError, "--name must not be empty")
	}
	return nil
}

func createAgent(ctx context.Context, repo domain.PrincipalRepository, opts *AgentsCreateOptions, jwtCfg config.JWTConfig, now time.Time, w io.Writer) error {
	p := &domain.Principal{
		ID:        uuid.New(),
		Kind:      opts.Kind,
		Name:      opts.Name,
		Role:      opts.Role,
		CreatedAt: now.UTC(),
	}
	if err := repo.Create(ctx, p); err != nil {
		return WrapExitError(ExitFailure, "failed to store agent", err)
	}

	if opts.Format == "text" {
		fmt.Fprintf(w, "created %s (%s, %s)\n", p.AgentRef(), p.Name, p.Role)
	}
	return printToken(w, opts.Format, jwtCfg, p.AgentRef(), jwtCfg.TTL, now)
}
