package stream

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/logging"
)

// Subscriber sends subscription changes to the push channel.
type Subscriber interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
}

// SymbolSource contributes symbols to the desired subscription set.
type SymbolSource interface {
	Symbols() []string
}

// Registry owns the desired subscription set: the union of holdings,
// watchlist and selected symbols. It is the only component that sends
// subscribe or unsubscribe on the push channel.
//
// Recompute, Reconcile and Replay are serialized, so the frames sent for one
// change are never interleaved with another.
type Registry struct {
	subscriber Subscriber
	logger     zerolog.Logger

	mu        sync.Mutex
	desired   map[string]struct{}
	holdings  SymbolSource
	watchlist SymbolSource
	selection SymbolSource
}

// NewRegistry creates a registry that sends through subscriber.
func NewRegistry(subscriber Subscriber, logger zerolog.Logger) *Registry {
	return &Registry{
		subscriber: subscriber,
		logger:     logging.WithComponent(logger, "registry"),
		desired:    make(map[string]struct{}),
	}
}

// SetSources registers the collections Reconcile reads from. Nil sources contribute nothing.
func (r *Registry) SetSources(holdings, watchlist, selection SymbolSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holdings = holdings
	r.watchlist = watchlist
	r.selection = selection
}

// Reconcile recomputes the desired set from the registered sources.
func (r *Registry) Reconcile() {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := union(symbolsOf(r.holdings), symbolsOf(r.watchlist), symbolsOf(r.selection))
	r.apply(next)
}

// Recompute replaces the desired set with the union of the given symbols and
// sends the difference. Returns the symbols added and removed.
func (r *Registry) Recompute(holdings, watchlist []string, selected string) (added, removed []string) {
	var sel []string
	if selected != "" {
		sel = []string{selected}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(union(holdings, watchlist, sel))
}

// apply must be called with r.mu held.
func (r *Registry) apply(next map[string]struct{}) (added, removed []string) {
	for symbol := range r.desired {
		if _, ok := next[symbol]; !ok {
			removed = append(removed, symbol)
		}
	}
	for symbol := range next {
		if _, ok := r.desired[symbol]; !ok {
			added = append(added, symbol)
		}
	}
	sort.Strings(removed)
	sort.Strings(added)

	for _, symbol := range removed {
		if err := r.subscriber.Unsubscribe(symbol); err != nil {
			r.logSendError("unsubscribe", symbol, err)
		}
	}
	for _, symbol := range added {
		if err := r.subscriber.Subscribe(symbol); err != nil {
			r.logSendError("subscribe", symbol, err)
		}
	}

	r.desired = next

	if len(added) > 0 || len(removed) > 0 {
		r.logger.Debug().
			Strs("added", added).
			Strs("removed", removed).
			Int("desired", len(next)).
			Msg("Subscriptions updated")
	}
	return added, removed
}

// Replay sends subscribe for every desired symbol, e.g. after a reconnect.
func (r *Registry) Replay() {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbols := sortedKeys(r.desired)
	for _, symbol := range symbols {
		if err := r.subscriber.Subscribe(symbol); err != nil {
			r.logSendError("subscribe", symbol, err)
		}
	}
	if len(symbols) > 0 {
		r.logger.Info().Int("symbols", len(symbols)).Msg("Subscriptions replayed")
	}
}

// Reset forgets the desired set without sending anything.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.desired = make(map[string]struct{})
}

// Desired returns the desired set in sorted order.
func (r *Registry) Desired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.desired)
}

// Contains reports whether symbol is in the desired set.
func (r *Registry) Contains(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.desired[symbol]
	return ok
}

func (r *Registry) logSendError(op, symbol string, err error) {
	var chErr *apperrors.ChannelError
	if !apperrors.As(err, &chErr) {
		err = apperrors.NewChannelError(op, err)
	}
	l := logging.WithSymbol(r.logger, symbol)
	l.Warn().Err(err).Msg("Subscription send failed")
}

func symbolsOf(src SymbolSource) []string {
	if src == nil {
		return nil
	}
	return src.Symbols()
}

func union(groups ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, group := range groups {
		for _, symbol := range group {
			if symbol != "" {
				set[symbol] = struct{}{}
			}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
