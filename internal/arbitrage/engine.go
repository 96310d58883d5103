// Package arbitrage computes cross-marketplace profit opportunities from the
// catalog snapshots and maintains the durable opportunity snapshot.
package arbitrage

import (
	"context"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"skinarb/internal/catalog"
	"skinarb/internal/fees"
	"skinarb/internal/metrics"
	"skinarb/internal/models"
)

// Params configures one engine run.
type Params struct {
	Mode       string // "complete" applies reference fees; "fast" compares gross prices
	MinRatio   float64
	MinPrice   float64
	MaxResults int
}

// Engine computes opportunities against the reference price table.
type Engine struct {
	store   *catalog.Store
	history *History // nil when run history is disabled
	metrics *metrics.Metrics
}

// New creates an engine over the given catalog. history and m may be nil.
func New(store *catalog.Store, history *History, m *metrics.Metrics) *Engine {
	return &Engine{store: store, history: history, metrics: m}
}

// Compute runs the engine once: loads the reference table, scans every
// non-reference snapshot, filters and ranks opportunities, rotates the
// durable snapshot, and records the run. The result is deterministic for a
// fixed catalog.
func (e *Engine) Compute(ctx context.Context, p Params) (*models.OpportunityList, error) {
	start := time.Now()

	table, err := e.store.ReferenceTable()
	if err != nil {
		return nil, err
	}
	sources, err := e.store.Sources()
	if err != nil {
		return nil, err
	}

	var opps []models.Opportunity
	computedAt := time.Now().UTC()
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := e.store.ReadSnapshot(source)
		if err != nil {
			log.Warn().Err(err).Str("source", source).Msg("Skipping unreadable snapshot")
			continue
		}
		for _, item := range items {
			if item.Name == "" || item.Price <= 0 || item.Price < p.MinPrice {
				continue
			}
			gross, ok := table[item.Name]
			if !ok || gross <= item.Price {
				continue
			}

			var abs, ratio float64
			if p.Mode == "fast" {
				abs = gross - item.Price
				ratio = abs / item.Price
			} else {
				abs, ratio = fees.ProfitFloat(gross, item.Price)
			}
			if ratio < p.MinRatio {
				continue
			}

			opps = append(opps, models.Opportunity{
				Name:           item.Name,
				BuySource:      source,
				BuyPrice:       item.Price,
				BuyURL:         item.URL,
				ReferenceGross: gross,
				ReferenceNet:   fees.NetPriceFloat(gross),
				ProfitAbsolute: abs,
				ProfitRatio:    ratio,
				ReferenceURL:   referenceURL(item.Name),
				ComputedAt:     computedAt,
			})
		}
	}

	sort.Slice(opps, func(i, j int) bool {
		if opps[i].ProfitRatio != opps[j].ProfitRatio {
			return opps[i].ProfitRatio > opps[j].ProfitRatio
		}
		return opps[i].Name < opps[j].Name
	})
	if p.MaxResults > 0 && len(opps) > p.MaxResults {
		opps = opps[:p.MaxResults]
	}

	result := &models.OpportunityList{
		Timestamp:     computedAt,
		Mode:          p.Mode,
		TotalResults:  len(opps),
		Opportunities: opps,
	}

	if err := e.rotate(result); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordEngineRun(len(opps), elapsed)
	}
	if e.history != nil {
		if err := e.history.RecordRun(ctx, result, elapsed); err != nil {
			log.Warn().Err(err).Msg("Failed to persist engine run history")
		}
	}

	log.Info().
		Str("mode", p.Mode).
		Int("sources", len(sources)).
		Int("opportunities", len(opps)).
		Dur("elapsed", elapsed).
		Msg("Arbitrage run complete")
	return result, nil
}

// rotate pushes the previous current run onto the bounded history and
// persists the snapshot atomically.
func (e *Engine) rotate(next *models.OpportunityList) error {
	snap, err := e.store.ReadOpportunities()
	if err != nil {
		log.Warn().Err(err).Msg("Starting a fresh opportunity snapshot")
		snap = &models.OpportunitySnapshot{}
	}
	if snap.Current != nil {
		snap.History = append([]models.OpportunityList{*snap.Current}, snap.History...)
		if len(snap.History) > models.MaxHistory {
			snap.History = snap.History[:models.MaxHistory]
		}
	}
	snap.Current = next
	snap.LastUpdated = next.Timestamp
	return e.store.WriteOpportunities(snap)
}

const steamListingBase = "https://steamcommunity.com/market/listings/730/"

func referenceURL(name string) string {
	return steamListingBase + url.PathEscape(name)
}
