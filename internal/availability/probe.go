// Package availability implements the stock probe: given a plan, an option
// set and a datacenter list, it reports per-datacenter availability from
// the OVH availability endpoint, with a short-lived cache that coalesces
// duplicate probes across the scheduler and the monitor within one tick.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/woodchen-ink/OVH/internal/ovh"
)

// State is the availability of a plan in one datacenter.
type State string

const (
	StateAvailable   State = "available"
	StateUnavailable State = "unavailable"
	StateUnknown     State = "unknown"
)

const (
	// CacheTTL must stay shorter than any reasonable retry interval;
	// the cache coalesces duplicate probes within a tick, it does not
	// batch across ticks.
	CacheTTL = 25 * time.Second

	cacheCleanupInterval = time.Minute
	cacheMaxEntries      = 256

	// ProbeTimeout bounds one availability call.
	ProbeTimeout = 15 * time.Second
)

// availabilityRow is one row of the OVH availability response.
type availabilityRow struct {
	PlanCode    string `json:"planCode"`
	FQN         string `json:"fqn"`
	Memory      string `json:"memory"`
	Storage     string `json:"storage"`
	Datacenters []struct {
		Datacenter   string `json:"datacenter"`
		Availability string `json:"availability"`
	} `json:"datacenters"`
}

// Probe queries and caches per-datacenter availability.
type Probe struct {
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewProbe creates a Probe with an empty cache.
func NewProbe(logger *slog.Logger) *Probe {
	return &Probe{
		cache:  gocache.New(CacheTTL, cacheCleanupInterval),
		logger: logger,
	}
}

// Probe returns the availability state of planCode with the given options
// for each requested datacenter. An empty datacenters list returns every
// datacenter the plan is offered in. Datacenters the endpoint does not
// report come back as StateUnknown, as does an option set matching no
// availability row.
func (p *Probe) Probe(ctx context.Context, client *ovh.Client, planCode string, options, datacenters []string) (map[string]State, error) {
	cacheKey := fmt.Sprintf("%s|%s|%s", client.Account().EndpointRegion, planCode, Fingerprint(options))

	if cached, ok := p.cache.Get(cacheKey); ok {
		return filterStates(cached.(map[string]State), datacenters), nil
	}

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	var rows []availabilityRow
	path := "/dedicated/server/datacenter/availabilities?planCode=" + url.QueryEscape(planCode)
	if err := client.Get(ctx, path, &rows); err != nil {
		return nil, err
	}

	states := p.matchRows(rows, planCode, options)

	if p.cache.ItemCount() >= cacheMaxEntries {
		p.cache.Flush()
	}
	p.cache.SetDefault(cacheKey, states)

	return filterStates(states, datacenters), nil
}

// matchRows picks the availability row whose option fingerprint matches the
// requested options and maps its buckets to states. With no options the
// rows for the plan are merged, taking the best state per datacenter.
func (p *Probe) matchRows(rows []availabilityRow, planCode string, options []string) map[string]State {
	states := map[string]State{}

	if len(options) == 0 {
		for _, row := range rows {
			if row.PlanCode != planCode {
				continue
			}
			for _, dc := range row.Datacenters {
				state := mapBucket(dc.Availability)
				if better(state, states[dc.Datacenter]) {
					states[dc.Datacenter] = state
				}
			}
		}
		return states
	}

	want := Fingerprint(normalizeOptions(options, planCode))
	for _, row := range rows {
		if row.PlanCode != planCode {
			continue
		}
		if Fingerprint(fqnOptions(row.FQN, planCode)) != want {
			continue
		}
		for _, dc := range row.Datacenters {
			states[dc.Datacenter] = mapBucket(dc.Availability)
		}
		return states
	}

	p.logger.Debug("no availability row matched option fingerprint",
		"plan_code", planCode, "options", options)
	return states
}

// mapBucket converts OVH's free-text availability bucket ("1H", "24H",
// "72H", "high", "low", "unavailable", "unknown") to a State.
func mapBucket(bucket string) State {
	switch bucket {
	case "unavailable":
		return StateUnavailable
	case "unknown", "":
		return StateUnknown
	default:
		return StateAvailable
	}
}

func better(a, b State) bool {
	rank := map[State]int{StateAvailable: 2, StateUnavailable: 1, StateUnknown: 0, "": -1}
	return rank[a] > rank[b]
}

// filterStates projects the full state map onto the requested datacenters.
// Requesting no datacenters returns a copy of the whole map.
func filterStates(states map[string]State, datacenters []string) map[string]State {
	out := make(map[string]State, len(states))
	if len(datacenters) == 0 {
		for dc, state := range states {
			out[dc] = state
		}
		return out
	}
	for _, dc := range datacenters {
		state, ok := states[dc]
		if !ok {
			state = StateUnknown
		}
		out[dc] = state
	}
	return out
}
