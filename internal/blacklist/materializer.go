// Package blacklist projects blacklist rules from the authoritative store
// into the fast store, partitioned by scope, so the decision hot path never
// queries SQL. It owns the full refresh (materialize), expiry cleanup, the
// operator-initiated single-rule delta, and the external feed parser.
package blacklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
)

// RuleStore is the authoritative-store surface the materializer reads from.
type RuleStore interface {
	ListEffectiveRules(ctx context.Context, family string) ([]core.Rule, error)
	DeactivateExpired(ctx context.Context) (map[string]int64, error)
}

// Counts maps family -> number of rules written on the last refresh.
type Counts map[string]int

// Total sums all families.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// uaRecord is the materialized form of one UA rule. The engine reads these
// back without re-parsing pattern semantics.
type uaRecord struct {
	Pattern string `json:"pattern"`
	Type    string `json:"type"`
}

// Materializer rebuilds the fast store's blacklist keys from the
// authoritative rules. Writes are atomic per scope+family, so the engine
// never observes a half-applied state.
type Materializer struct {
	store  RuleStore
	fast   faststore.Client
	logger *slog.Logger
}

func NewMaterializer(store RuleStore, fast faststore.Client, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{store: store, fast: fast, logger: logger}
}

// MaterializeAll rebuilds every family for every scope. A failing family
// does not stop the others; failures are aggregated into the returned error
// and counts carry the families that succeeded.
func (m *Materializer) MaterializeAll(ctx context.Context) (Counts, error) {
	counts := make(Counts, len(core.Families))
	var errs []error
	for _, family := range core.Families {
		n, err := m.MaterializeFamily(ctx, family)
		if err != nil {
			m.logger.Error("Materialize family failed", "family", family, "error", err)
			errs = append(errs, fmt.Errorf("family %s: %w", family, err))
			continue
		}
		counts[family] = n
	}
	if len(errs) > 0 {
		return counts, errors.Join(errs...)
	}
	m.logger.Info("Blacklist materialized", "rules", counts.Total())
	return counts, nil
}

// MaterializeFamily rebuilds one family for every scope that has rules, and
// deletes the keys of scopes that lost their last rule since the previous
// run. Returns the number of rules written.
func (m *Materializer) MaterializeFamily(ctx context.Context, family string) (int, error) {
	rules, err := m.store.ListEffectiveRules(ctx, family)
	if err != nil {
		return 0, fmt.Errorf("list %s rules: %w", family, err)
	}

	byScope := make(map[string][]core.Rule)
	for _, r := range rules {
		scope := r.Scope()
		byScope[scope] = append(byScope[scope], r)
	}

	for scope, scoped := range byScope {
		if err := m.writeScope(ctx, family, scope, scoped); err != nil {
			return 0, fmt.Errorf("scope %s: %w", scope, err)
		}
	}

	if err := m.dropStaleScopes(ctx, family, byScope); err != nil {
		return 0, err
	}
	return len(rules), nil
}

// writeScope rewrites every key the family owns for one scope in a single
// atomic replace.
func (m *Materializer) writeScope(ctx context.Context, family, scope string, rules []core.Rule) error {
	switch family {
	case core.FamilyIP:
		members := make([]string, 0, len(rules))
		for _, r := range rules {
			members = append(members, r.IPAddress)
		}
		return m.fast.ReplaceSet(ctx, faststore.BlacklistIP(scope), members)

	case core.FamilyIPRange:
		cidrs := make([]string, 0, len(rules))
		for _, r := range rules {
			cidrs = append(cidrs, r.CIDR)
		}
		raw, err := json.Marshal(cidrs)
		if err != nil {
			return fmt.Errorf("encode cidrs: %w", err)
		}
		return m.fast.Set(ctx, faststore.BlacklistIPRanges(scope), string(raw), 0)

	case core.FamilyUA:
		records := make([]string, 0, len(rules))
		for _, r := range rules {
			raw, err := json.Marshal(uaRecord{Pattern: r.Pattern, Type: r.PatternType})
			if err != nil {
				return fmt.Errorf("encode ua record: %w", err)
			}
			records = append(records, string(raw))
		}
		return m.fast.ReplaceList(ctx, faststore.BlacklistUAs(scope), records)

	case core.FamilyISP:
		asns := make([]string, 0, len(rules))
		names := make(map[string]string, len(rules))
		for _, r := range rules {
			if asn := core.NormalizeASN(r.ASN); asn != "" {
				asns = append(asns, asn)
			}
			// Name rules are matched by lowercase substring against the
			// intel provider's ISP field, so key the hash by the needle.
			if r.ISPName != "" {
				names[strings.ToLower(r.ISPName)] = r.ISPName
			}
		}
		if err := m.fast.ReplaceSet(ctx, faststore.BlacklistISPs(scope), asns); err != nil {
			return err
		}
		return m.fast.ReplaceHash(ctx, faststore.BlacklistISPNames(scope), names)

	case core.FamilyGeo:
		fields := make(map[string]string, len(rules))
		for _, r := range rules {
			fields[geoField(r)] = r.BlockType
		}
		return m.fast.ReplaceHash(ctx, faststore.BlacklistGeos(scope), fields)
	}
	return core.Validationf("unknown rule family %q", family)
}

// dropStaleScopes deletes the keys of scopes that were materialized on the
// previous run but carry no rules now, then records the current scope set.
func (m *Materializer) dropStaleScopes(ctx context.Context, family string, current map[string][]core.Rule) error {
	registry := faststore.BlacklistScopes(family)
	previous, err := m.fast.SMembers(ctx, registry)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("read scope registry: %w", err)
	}

	for _, scope := range previous {
		if _, live := current[scope]; live {
			continue
		}
		if err := m.fast.Del(ctx, scopeKeys(family, scope)...); err != nil {
			return fmt.Errorf("drop scope %s: %w", scope, err)
		}
		m.logger.Debug("Dropped empty blacklist scope", "family", family, "scope", scope)
	}

	scopes := make([]string, 0, len(current))
	for scope := range current {
		scopes = append(scopes, scope)
	}
	return m.fast.ReplaceSet(ctx, registry, scopes)
}

// CleanupExpired deactivates rules past their expiry in the authoritative
// store, then re-materializes only the families that lost rows. Returns the
// per-family expired counts.
func (m *Materializer) CleanupExpired(ctx context.Context) (map[string]int64, error) {
	expired, err := m.store.DeactivateExpired(ctx)
	if err != nil {
		return nil, fmt.Errorf("deactivate expired: %w", err)
	}

	var errs []error
	for family, n := range expired {
		if n == 0 {
			continue
		}
		m.logger.Info("Expired blacklist rules deactivated", "family", family, "count", n)
		if _, err := m.MaterializeFamily(ctx, family); err != nil {
			errs = append(errs, fmt.Errorf("family %s: %w", family, err))
		}
	}
	return expired, errors.Join(errs...)
}

// scopeKeys lists every fast-store key a family owns for one scope.
func scopeKeys(family, scope string) []string {
	switch family {
	case core.FamilyIP:
		return []string{faststore.BlacklistIP(scope)}
	case core.FamilyIPRange:
		return []string{faststore.BlacklistIPRanges(scope)}
	case core.FamilyUA:
		return []string{faststore.BlacklistUAs(scope)}
	case core.FamilyISP:
		return []string{faststore.BlacklistISPs(scope), faststore.BlacklistISPNames(scope)}
	case core.FamilyGeo:
		return []string{faststore.BlacklistGeos(scope)}
	}
	return nil
}

// geoField builds the hash field for a geo rule: "CC" or "CC:REGION".
func geoField(r core.Rule) string {
	if r.RegionCode != "" {
		return r.CountryCode + ":" + r.RegionCode
	}
	return r.CountryCode
}
