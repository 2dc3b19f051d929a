package consequence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/solatis/abusefilter/internal/cachestore"
	"github.com/solatis/abusefilter/internal/types"
)

// Tagger stores change tags per action.
type Tagger interface {
	Add(ctx context.Context, key string, tags []string) error
}

// ActionKey identifies an action for tagging and warn-once tracking.
func ActionKey(ac *types.ActionContext) string {
	name := ac.Actor.Name
	if ac.AccountName != "" {
		name = ac.AccountName
	}
	return fmt.Sprintf("%s/%s/%d:%s", ac.Kind, name, ac.Target.Namespace, ac.Target.Title)
}

// TagHandler applies the union of all requested tags once.
type TagHandler struct {
	Tags Tagger
}

func (h *TagHandler) Apply(ctx context.Context, inv Invocation) (Effect, error) {
	var tags []string
	for _, it := range inv.Items {
		for _, t := range it.Params {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	slices.Sort(tags)
	tags = slices.Compact(tags)
	if len(tags) == 0 {
		return Effect{}, nil
	}
	if err := h.Tags.Add(ctx, ActionKey(inv.Action), tags); err != nil {
		return Effect{}, err
	}
	return Effect{Tags: tags}, nil
}

// DisallowHandler has no external effect: the deny decision is carried by
// the run result, so applying it any number of times is the same.
type DisallowHandler struct{}

func (DisallowHandler) Apply(ctx context.Context, inv Invocation) (Effect, error) {
	return Effect{}, nil
}

const warnCacheName = "warned"

// WarnHandler warns the actor once per rule and target. Resubmitting the
// same action after a warning lets it through and consumes the warning.
type WarnHandler struct {
	Cache cachestore.CacheStore
}

func warnKey(ac *types.ActionContext, id types.RuleID) string {
	return fmt.Sprintf("%d/%s", int64(id), ActionKey(ac))
}

func (h *WarnHandler) Preflight(ctx context.Context, ac *types.ActionContext, item Item) (Verdict, error) {
	key := warnKey(ac, item.RuleID)
	v, err := h.Cache.Get(ctx, warnCacheName, key)
	if err != nil {
		return Proceed, err
	}
	if v == "" {
		return Proceed, nil
	}
	if err := h.Cache.Purge(ctx, warnCacheName, key); err != nil {
		return SkipConsequence, err
	}
	return SkipConsequence, nil
}

func (h *WarnHandler) Apply(ctx context.Context, inv Invocation) (Effect, error) {
	var errs []error
	for _, it := range inv.Items {
		if err := h.Cache.Set(ctx, warnCacheName, warnKey(inv.Action, it.RuleID), "1"); err != nil {
			errs = append(errs, err)
		}
	}
	return Effect{}, errors.Join(errs...)
}

// parseDuration accepts Go durations, a plain number of seconds, and
// "infinity"/"indefinite" (returned as 0).
func parseDuration(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "infinity", "infinite", "indefinite", "never":
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var secs int64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &secs); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// longest picks the longest requested duration, zero meaning indefinite.
func longest(items []Item, def time.Duration) (time.Duration, error) {
	best := time.Duration(-1)
	for _, it := range items {
		d := def
		if len(it.Params) > 0 && it.Params[0] != "" {
			var err error
			if d, err = parseDuration(it.Params[0]); err != nil {
				return 0, err
			}
		}
		if d == 0 {
			return 0, nil
		}
		if d > best {
			best = d
		}
	}
	if best < 0 {
		return def, nil
	}
	return best, nil
}

// accountHandler is the shared part of the destructive handlers.
type accountHandler struct {
	Accounts  AccountMutator
	Mutations MutationLog
	Now       func() time.Time
}

func (h *accountHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *accountHandler) mutate(ctx context.Context, inv Invocation, fn func(*types.Account) error) (Effect, error) {
	ac := inv.Action
	if ac.Actor.Anonymous() {
		return Effect{}, nil
	}
	prior, after, err := h.Accounts.UpdateAccount(ctx, ac.Actor.ID, func(a *types.Account) error {
		if a.Name == "" {
			a.Name = ac.Actor.Name
		}
		return fn(a)
	})
	if errors.Is(err, ErrNoChange) {
		return Effect{}, nil
	} else if err != nil {
		return Effect{}, err
	}
	rec := &types.MutationRecord{
		Kind:    inv.Kind,
		UserID:  ac.Actor.ID,
		RuleIDs: inv.RuleIDs(),
		Prior:   prior,
		After:   after,
		At:      h.now(),
	}
	if h.Mutations != nil {
		if err := h.Mutations.RecordMutation(ctx, rec); err != nil {
			return Effect{Mutation: rec}, fmt.Errorf("record mutation: %w", err)
		}
	}
	return Effect{Mutation: rec}, nil
}

// BlockHandler blocks the actor for the longest duration requested.
type BlockHandler struct {
	accountHandler
	DefaultDuration time.Duration
}

func NewBlockHandler(accounts AccountMutator, mutations MutationLog, def time.Duration) *BlockHandler {
	return &BlockHandler{accountHandler: accountHandler{Accounts: accounts, Mutations: mutations}, DefaultDuration: def}
}

func (h *BlockHandler) Apply(ctx context.Context, inv Invocation) (Effect, error) {
	d, err := longest(inv.Items, h.DefaultDuration)
	if err != nil {
		return Effect{}, err
	}
	now := h.now()
	return h.mutate(ctx, inv, func(a *types.Account) error {
		var expiry time.Time
		if d > 0 {
			expiry = now.Add(d)
		}
		if a.Blocked && (a.BlockExpiry.IsZero() || (!expiry.IsZero() && !expiry.After(a.BlockExpiry))) {
			// an existing block already covers this one
			return ErrNoChange
		}
		a.Blocked = true
		a.BlockedBy = types.FilterUser
		a.BlockReason = fmt.Sprintf("Automatically blocked by rules %v", inv.RuleIDs())
		a.BlockExpiry = expiry
		return nil
	})
}

// DegroupHandler removes the actor from all groups.
type DegroupHandler struct {
	accountHandler
}

func NewDegroupHandler(accounts AccountMutator, mutations MutationLog) *DegroupHandler {
	return &DegroupHandler{accountHandler: accountHandler{Accounts: accounts, Mutations: mutations}}
}

func (h *DegroupHandler) Apply(ctx context.Context, inv Invocation) (Effect, error) {
	return h.mutate(ctx, inv, func(a *types.Account) error {
		if len(a.Groups) == 0 {
			return ErrNoChange
		}
		a.Groups = nil
		return nil
	})
}

// DefaultAutopromoteBlock is how long autopromotion stays blocked when the
// rule gives no duration.
const DefaultAutopromoteBlock = 5 * 24 * time.Hour

// BlockAutopromoteHandler stops the actor from being promoted automatically.
type BlockAutopromoteHandler struct {
	accountHandler
}

func NewBlockAutopromoteHandler(accounts AccountMutator, mutations MutationLog) *BlockAutopromoteHandler {
	return &BlockAutopromoteHandler{accountHandler: accountHandler{Accounts: accounts, Mutations: mutations}}
}

func (h *BlockAutopromoteHandler) Apply(ctx context.Context, inv Invocation) (Effect, error) {
	d, err := longest(inv.Items, DefaultAutopromoteBlock)
	if err != nil {
		return Effect{}, err
	}
	if d == 0 {
		d = DefaultAutopromoteBlock
	}
	until := h.now().Add(d)
	return h.mutate(ctx, inv, func(a *types.Account) error {
		if !until.After(a.AutopromoteBlockedUntil) {
			return ErrNoChange
		}
		a.AutopromoteBlockedUntil = until
		return nil
	})
}
