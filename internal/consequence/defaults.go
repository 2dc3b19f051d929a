package consequence

import (
	"time"

	"github.com/solatis/abusefilter/internal/cachestore"
	"github.com/solatis/abusefilter/internal/countstore"
	"github.com/solatis/abusefilter/internal/types"
)

// Services are the collaborators of the built-in handlers.
type Services struct {
	Tags      Tagger
	Cache     cachestore.CacheStore
	Counts    countstore.CountStore
	Accounts  AccountMutator
	Mutations MutationLog
	// BlockDuration applies to block consequences without a duration.
	// Zero blocks indefinitely.
	BlockDuration time.Duration
	Now           func() time.Time
}

// NewDefaultRegistry registers the built-in handlers.
func NewDefaultRegistry(svc Services) *Registry {
	r := NewRegistry()
	r.Register(types.ConsequenceTag, &TagHandler{Tags: svc.Tags})
	r.Register(types.ConsequenceWarn, &WarnHandler{Cache: svc.Cache})
	r.Register(types.ConsequenceDisallow, DisallowHandler{})
	r.Register(types.ConsequenceThrottle, &ThrottleHandler{Counts: svc.Counts})

	block := NewBlockHandler(svc.Accounts, svc.Mutations, svc.BlockDuration)
	block.Now = svc.Now
	degroup := NewDegroupHandler(svc.Accounts, svc.Mutations)
	degroup.Now = svc.Now
	autopromote := NewBlockAutopromoteHandler(svc.Accounts, svc.Mutations)
	autopromote.Now = svc.Now

	r.Register(types.ConsequenceBlock, block)
	r.Register(types.ConsequenceDegroup, degroup)
	r.Register(types.ConsequenceBlockAutopromote, autopromote)
	return r
}
