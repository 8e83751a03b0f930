package blacklist

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
)

// ApplyDelta mutates the one fast-store key affected by a single-rule add or
// remove so operator changes take effect ahead of the next scheduled
// refresh. The authoritative write already committed, so a fast-store
// failure here is logged and swallowed; the next materialize reconciles.
func (m *Materializer) ApplyDelta(ctx context.Context, r core.Rule, added bool) {
	scope := r.Scope()
	if err := m.applyDelta(ctx, r, scope, added); err != nil {
		m.logger.Warn("Blacklist delta failed, full refresh will reconcile",
			"family", r.Family, "scope", scope, "added", added, "error", err)
		return
	}
	if added {
		// Register the scope so a later refresh can drop its keys once the
		// scope empties out again.
		if err := m.fast.SAdd(ctx, faststore.BlacklistScopes(r.Family), scope); err != nil {
			m.logger.Warn("Blacklist scope registration failed", "family", r.Family, "scope", scope, "error", err)
		}
	}
}

func (m *Materializer) applyDelta(ctx context.Context, r core.Rule, scope string, added bool) error {
	switch r.Family {
	case core.FamilyIP:
		if added {
			return m.fast.SAdd(ctx, faststore.BlacklistIP(scope), r.IPAddress)
		}
		return m.fast.SRem(ctx, faststore.BlacklistIP(scope), r.IPAddress)

	case core.FamilyIPRange:
		// The hot path reads all CIDRs of a scope as one scalar, so a delta
		// rewrites the whole scalar from the authoritative rows.
		return m.rewriteRangeScalar(ctx, scope)

	case core.FamilyUA:
		raw, err := json.Marshal(uaRecord{Pattern: r.Pattern, Type: r.PatternType})
		if err != nil {
			return err
		}
		if added {
			return m.fast.LPush(ctx, faststore.BlacklistUAs(scope), string(raw))
		}
		_, err = m.fast.LRem(ctx, faststore.BlacklistUAs(scope), 0, string(raw))
		return err

	case core.FamilyISP:
		asn := core.NormalizeASN(r.ASN)
		if added {
			if asn != "" {
				if err := m.fast.SAdd(ctx, faststore.BlacklistISPs(scope), asn); err != nil {
					return err
				}
			}
			if r.ISPName == "" {
				return nil
			}
			return m.fast.HSet(ctx, faststore.BlacklistISPNames(scope), map[string]string{strings.ToLower(r.ISPName): r.ISPName})
		}
		if asn != "" {
			if err := m.fast.SRem(ctx, faststore.BlacklistISPs(scope), asn); err != nil {
				return err
			}
		}
		if r.ISPName == "" {
			return nil
		}
		return m.fast.HDel(ctx, faststore.BlacklistISPNames(scope), strings.ToLower(r.ISPName))

	case core.FamilyGeo:
		if added {
			return m.fast.HSet(ctx, faststore.BlacklistGeos(scope), map[string]string{geoField(r): r.BlockType})
		}
		return m.fast.HDel(ctx, faststore.BlacklistGeos(scope), geoField(r))
	}
	return core.Validationf("unknown rule family %q", r.Family)
}

// rewriteRangeScalar rebuilds one scope's CIDR scalar from the effective
// rows, mirroring what a full materialize would write for that scope.
func (m *Materializer) rewriteRangeScalar(ctx context.Context, scope string) error {
	rules, err := m.store.ListEffectiveRules(ctx, core.FamilyIPRange)
	if err != nil {
		return err
	}
	cidrs := make([]string, 0, len(rules))
	for _, r := range rules {
		if r.Scope() == scope {
			cidrs = append(cidrs, r.CIDR)
		}
	}
	if len(cidrs) == 0 {
		return m.fast.Del(ctx, faststore.BlacklistIPRanges(scope))
	}
	raw, err := json.Marshal(cidrs)
	if err != nil {
		return err
	}
	return m.fast.Set(ctx, faststore.BlacklistIPRanges(scope), string(raw), 0)
}
