package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/actions"
	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/config"
	"github.com/roach88/grove/internal/engine"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/eventstore"
	"github.com/roach88/grove/internal/remote"
)

// ClientOptions holds flags shared by device-side commands. Unset flags fall
// back to GROVE_* environment variables.
type ClientOptions struct {
	*RootOptions
	ServerURL string
	Token     string
	CachePath string
	Offline   bool // skip the initial sync and work from the cache

	// Remote overrides the HTTP client (for testing).
	Remote remote.Remote
	// Blob overrides the bbolt cache file (for testing).
	Blob cache.Blob
	// Now overrides the wall clock (for testing).
	Now func() time.Time
	// IDs overrides the UUIDv7 generator (for testing).
	IDs event.IDGenerator
}

func addClientFlags(cmd *cobra.Command, opts *ClientOptions) {
	cmd.Flags().StringVar(&opts.ServerURL, "server", "", "server base URL (default $GROVE_SERVER_URL)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token (default $GROVE_TOKEN)")
	cmd.Flags().StringVar(&opts.CachePath, "cache", "", "local cache file (default $GROVE_CACHE)")
}

func addOfflineFlag(cmd *cobra.Command, opts *ClientOptions) {
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "skip the initial sync and use cached state")
}

// session is a started engine plus the helpers a command needs.
type session struct {
	engine  *engine.Engine
	builder *actions.Builder
	now     func() time.Time
	sync    engine.SyncResult
	close   func()
}

// openSession starts an engine from the local cache and, unless offline,
// runs one SmartSync. An unreachable server is not an error: the session
// works from cached state and writes queue for later upload.
func openSession(ctx context.Context, opts *ClientOptions, cmd *cobra.Command) (*session, error) {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose, slog.LevelWarn)

	cfg, err := config.LoadClient()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}
	if opts.Token != "" {
		cfg.Token = opts.Token
	}
	if opts.CachePath != "" {
		cfg.CachePath = opts.CachePath
	}

	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	rem := opts.Remote
	if rem == nil {
		if err := cfg.Validate(); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		rem = remote.NewClient(cfg.ServerURL, cfg.Token,
			remote.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	blob := opts.Blob
	if blob == nil {
		bolt, err := cache.OpenBolt(cfg.CachePath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open cache", err)
		}
		closers = append(closers, func() {
			if err := bolt.Close(); err != nil {
				logger.Error("error closing cache", "error", err)
			}
		})
		blob = bolt
	}

	eng, err := engine.New(engine.Config{
		Store:  eventstore.New(),
		Cache:  cache.New(blob),
		Remote: rem,
		Logger: logger,
	})
	if err != nil {
		closeAll()
		return nil, err
	}
	if err := eng.Start(ctx); err != nil {
		closeAll()
		return nil, err
	}

	s := &session{
		engine:  eng,
		builder: actions.NewBuilder(opts.ids(), opts.now()),
		now:     opts.now(),
		close:   closeAll,
	}

	if !opts.Offline {
		s.sync = eng.SmartSync(ctx)
		if engine.IsUnauthorized(s.sync.Err) {
			closeAll()
			return nil, WrapExitError(ExitCommandError, "server rejected the token", s.sync.Err)
		}
		if s.sync.Err != nil {
			logger.Warn("working offline", "error", s.sync.Err)
		}
	}
	return s, nil
}

func (o *ClientOptions) now() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}

func (o *ClientOptions) ids() event.IDGenerator {
	if o.IDs != nil {
		return o.IDs
	}
	return event.UUIDv7Generator{}
}

// WriteResult reports one recorded event.
type WriteResult struct {
	Kind      string `json:"kind"`
	ClientID  string `json:"client_id"`
	SubjectID string `json:"subject_id,omitempty"`
	Delivered bool   `json:"delivered"`
	Pending   int    `json:"pending"`
}

func (r WriteResult) String() string {
	subject := ""
	if r.SubjectID != "" {
		subject = " " + r.SubjectID
	}
	if r.Delivered {
		return fmt.Sprintf("✓ %s%s", r.Kind, subject)
	}
	return fmt.Sprintf("✓ %s%s (queued, %d pending upload)", r.Kind, subject, r.Pending)
}

// record pushes ev and reports it. A delivery failure is not a command
// failure: the event is applied locally and queued.
func (s *session) record(ctx context.Context, f *OutputFormatter, ev event.Event, subject string) error {
	err := s.engine.PushEvent(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrQueued):
		f.VerboseLog("queued %s: %v", ev, err)
	case errors.Is(err, remote.ErrRejected):
		_ = f.Error(CodeRejected, "server rejected the event", err.Error())
		return WrapExitError(ExitFailure, "event rejected", err)
	case engine.IsUnauthorized(err):
		_ = f.Error(CodeUnauthorized, "server rejected the token", nil)
		return WrapExitError(ExitCommandError, "unauthorized", err)
	default:
		return WrapExitError(ExitCommandError, "failed to record event", err)
	}

	return f.Success(WriteResult{
		Kind:      string(ev.Kind),
		ClientID:  ev.ClientID,
		SubjectID: subject,
		Delivered: err == nil,
		Pending:   len(s.engine.Pending()),
	})
}

// actionError maps a Builder error to an exit code.
func actionError(f *OutputFormatter, err error) error {
	if errors.Is(err, actions.ErrInvalidInput) {
		_ = f.Error(CodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid input", err)
	}
	_ = f.Error(CodeRejected, err.Error(), nil)
	return WrapExitError(ExitFailure, "action not allowed", err)
}

func formatterFor(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
