package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gosuda/custos/internal/auth"
	"github.com/gosuda/custos/internal/config"
	"github.com/gosuda/custos/internal/domain"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	AgentType string
	AgentID   string
	TTL       time.Duration
}

// TokenResult is the JSON form of a minted token.
type TokenResult struct {
	Agent     domain.AgentRef `json:"agent"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an agent",
		Long: `Mint a bearer token signed with CUSTOS_JWT_SECRET.

Omit --agent-id for singleton agents. The agent must still be known to the
server that receives the token.

Examples:
  custos token --agent-type user --agent-id 9a0e...
  custos token --agent-type anonymous --ttl 1h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runToken(opts, cfg.JWT, time.Now(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.AgentType, "agent-type", "", "agent kind (required)")
	_ = cmd.MarkFlagRequired("agent-type")
	cmd.Flags().StringVar(&opts.AgentID, "agent-id", "", "agent id; omit for singleton agents")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (defaults to CUSTOS_JWT_TTL)")

	return cmd
}

func runToken(opts *TokenOptions, jwtCfg config.JWTConfig, now time.Time, w io.Writer) error {
	ref := domain.SingletonAgent(opts.AgentType)
	if opts.AgentID != "" {
		id, err := uuid.Parse(opts.AgentID)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --agent-id", err)
		}
		ref = domain.IdentifiedAgent(opts.AgentType, id)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = jwtCfg.TTL
	}

	return printToken(w, opts.Format, jwtCfg, ref, ttl, now)
}

func printToken(w io.Writer, format string, jwtCfg config.JWTConfig, ref domain.AgentRef, ttl time.Duration, now time.Time) error {
	tok, err := auth.IssueToken(jwtCfg.Secret, jwtCfg.Issuer, ref, ttl)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to issue token", err)
	}

	if format == "json" {
		return writeJSON(w, TokenResult{Agent: ref, Token: tok, ExpiresAt: now.Add(ttl).UTC()})
	}
	fmt.Fprintln(w, tok)
	return nil
}
