package turn

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/evrenesat/asky/internal/store"
)

// Halt reasons form a closed set; callers switch on them for messaging.
const (
	HaltSessionNotFound       = "session_not_found"
	HaltSessionAmbiguous      = "session_ambiguous"
	HaltSessionCommandOnly    = "session_command_only"
	HaltCorpusMissing         = "local_corpus_missing"
	HaltCorpusIngestionFailed = "local_corpus_ingestion_failed"
)

// shellSessionPrefix namespaces sessions auto-attached to an interactive
// shell so they never collide with user-named ones.
const shellSessionPrefix = "shell:"

// resolveSession applies the session directives of one request. Exactly one
// of the directives wins, in order: sticky name, resume selector, shell id.
// With none, the turn runs history-only and the session is nil. A non-empty
// halt reason means the turn must stop before any model call.
func (o *Orchestrator) resolveSession(ctx context.Context, req *TurnRequest) (*store.Session, string, error) {
	switch {
	case req.SessionName != "":
		sess, err := o.stickySession(ctx, req.SessionName, req.ModelAlias)
		return sess, "", err

	case req.ResumeSelector != "":
		return o.resumeSession(ctx, req.ResumeSelector)

	case req.ShellSessionID != "":
		sess, err := o.adoptOrCreate(ctx, shellSessionPrefix+req.ShellSessionID, req.ModelAlias)
		return sess, "", err
	}
	return nil, "", nil
}

// stickySession reuses the named session when it was active inside the
// sticky window, otherwise starts a fresh one under the same name.
func (o *Orchestrator) stickySession(ctx context.Context, name, modelAlias string) (*store.Session, error) {
	existing, err := o.deps.Store.SessionsByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("looking up session %q: %w", name, err)
	}
	if len(existing) > 0 {
		newest := existing[0]
		if o.now().Sub(newest.LastActiveAt) <= o.cfg.Session.StickyWindow {
			if err := o.deps.Store.TouchSession(ctx, newest.ID); err != nil {
				return nil, err
			}
			o.logger.Debug("adopted sticky session", "session", newest.ID, "name", name)
			return newest, nil
		}
	}
	return o.createSession(ctx, name, modelAlias)
}

// resumeSession resolves an explicit resume selector: a numeric id, or an
// exact name that must match exactly one session.
func (o *Orchestrator) resumeSession(ctx context.Context, selector string) (*store.Session, string, error) {
	selector = strings.TrimSpace(selector)

	if id, err := strconv.ParseInt(selector, 10, 64); err == nil && id > 0 {
		sess, err := o.deps.Store.GetSession(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, HaltSessionNotFound, nil
		}
		if err != nil {
			return nil, "", err
		}
		if err := o.deps.Store.TouchSession(ctx, sess.ID); err != nil {
			return nil, "", err
		}
		return sess, "", nil
	}

	matches, err := o.deps.Store.SessionsByName(ctx, selector)
	if err != nil {
		return nil, "", fmt.Errorf("looking up session %q: %w", selector, err)
	}
	switch len(matches) {
	case 0:
		return nil, HaltSessionNotFound, nil
	case 1:
		if err := o.deps.Store.TouchSession(ctx, matches[0].ID); err != nil {
			return nil, "", err
		}
		return matches[0], "", nil
	default:
		o.logger.Warn("ambiguous session name", "name", selector, "matches", len(matches))
		return nil, HaltSessionAmbiguous, nil
	}
}

func (o *Orchestrator) adoptOrCreate(ctx context.Context, name, modelAlias string) (*store.Session, error) {
	existing, err := o.deps.Store.SessionsByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("looking up session %q: %w", name, err)
	}
	if len(existing) > 0 {
		if err := o.deps.Store.TouchSession(ctx, existing[0].ID); err != nil {
			return nil, err
		}
		return existing[0], nil
	}
	return o.createSession(ctx, name, modelAlias)
}

func (o *Orchestrator) createSession(ctx context.Context, name, modelAlias string) (*store.Session, error) {
	if modelAlias == "" {
		modelAlias = o.cfg.LLM.DefaultModel
	}
	sess, err := o.deps.Store.CreateSession(ctx, name, modelAlias)
	if err != nil {
		return nil, fmt.Errorf("creating session %q: %w", name, err)
	}
	o.logger.Info("created session", "session", sess.ID, "name", name)
	return sess, nil
}

// applySessionOverrides propagates per-request knobs onto the session row
// so later turns inherit them.
func (o *Orchestrator) applySessionOverrides(ctx context.Context, sess *store.Session, req *TurnRequest) error {
	if sess == nil {
		return nil
	}
	if req.ElephantMode && !sess.MemoryExtract {
		if err := o.deps.Store.SetSessionMemoryExtract(ctx, sess.ID, true); err != nil {
			return err
		}
		sess.MemoryExtract = true
	}
	if req.MaxTurnsOverride > 0 && req.MaxTurnsOverride != sess.MaxTurns {
		if err := o.deps.Store.UpdateSessionMaxTurns(ctx, sess.ID, req.MaxTurnsOverride); err != nil {
			return err
		}
		sess.MaxTurns = req.MaxTurnsOverride
	}
	return nil
}
