package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/auth"
	"github.com/roach88/grove/internal/config"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	TTL time.Duration
}

// TokenResult is a freshly signed bearer token.
type TokenResult struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r TokenResult) String() string {
	return r.Token
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for a user",
		Long: `Sign a bearer token with GROVE_JWT_SECRET. The user id names the event
log the token can read and write.

Example:
  export GROVE_TOKEN=$(grove token alice)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default $GROVE_TOKEN_TTL or 720h)")

	return cmd
}

func runToken(opts *TokenOptions, userID string, cmd *cobra.Command) error {
	f := formatterFor(opts.RootOptions, cmd)

	cfg, err := config.LoadServer()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if cfg.JWTSecret == "" {
		return NewExitError(ExitCommandError, "GROVE_JWT_SECRET is required")
	}
	ttl := cfg.TokenTTL
	if opts.TTL > 0 {
		ttl = opts.TTL
	}

	issuedAt := time.Now()
	token, err := auth.NewManager(cfg.JWTSecret).GenerateToken(userID, ttl)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to sign token", err)
	}
	return f.Success(TokenResult{
		UserID:    userID,
		Token:     token,
		ExpiresAt: issuedAt.Add(ttl).UTC().Truncate(time.Second),
	})
}
