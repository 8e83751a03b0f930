package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/autoguard/backend/internal/core"
)

// familyTables maps rule families to their tables.
var familyTables = map[string]string{
	core.FamilyIP:      "blacklist_ips",
	core.FamilyIPRange: "blacklist_ip_ranges",
	core.FamilyUA:      "blacklist_uas",
	core.FamilyISP:     "blacklist_isps",
	core.FamilyGeo:     "blacklist_geos",
}

// ListEffectiveRules returns the active, unexpired rules of one family
// across every scope. Callers partition by UserID (0 is global).
func (s *Store) ListEffectiveRules(ctx context.Context, family string) ([]core.Rule, error) {
	table, ok := familyTables[family]
	if !ok {
		return nil, core.Validationf("unknown rule family %q", family)
	}

	q := fmt.Sprintf(`
		SELECT id, user_id, %s, is_active, source, expires_at, created_at, updated_at
		FROM %s
		WHERE is_active AND (expires_at IS NULL OR expires_at > now())
		ORDER BY id`, familyValueColumns(family), table)

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("list %s rules", family))
	}
	defer rows.Close()

	var out []core.Rule
	for rows.Next() {
		r, err := scanRule(rows, family)
		if err != nil {
			return nil, mapError(err, fmt.Sprintf("scan %s rule", family))
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func familyValueColumns(family string) string {
	switch family {
	case core.FamilyIP:
		return "ip_address"
	case core.FamilyIPRange:
		return "cidr"
	case core.FamilyUA:
		return "pattern, pattern_type"
	case core.FamilyISP:
		return "asn, isp_name"
	default: // geo
		return "country_code, region_code, block_type"
	}
}

func scanRule(row scanner, family string) (core.Rule, error) {
	r := core.Rule{Family: family}
	var (
		source    sql.NullString
		expiresAt sql.NullTime
		err       error
	)
	switch family {
	case core.FamilyIP:
		err = row.Scan(&r.ID, &r.UserID, &r.IPAddress, &r.IsActive, &source, &expiresAt, &r.CreatedAt, &r.UpdatedAt)
	case core.FamilyIPRange:
		err = row.Scan(&r.ID, &r.UserID, &r.CIDR, &r.IsActive, &source, &expiresAt, &r.CreatedAt, &r.UpdatedAt)
	case core.FamilyUA:
		err = row.Scan(&r.ID, &r.UserID, &r.Pattern, &r.PatternType, &r.IsActive, &source, &expiresAt, &r.CreatedAt, &r.UpdatedAt)
	case core.FamilyISP:
		err = row.Scan(&r.ID, &r.UserID, &r.ASN, &r.ISPName, &r.IsActive, &source, &expiresAt, &r.CreatedAt, &r.UpdatedAt)
	default: // geo
		err = row.Scan(&r.ID, &r.UserID, &r.CountryCode, &r.RegionCode, &r.BlockType, &r.IsActive, &source, &expiresAt, &r.CreatedAt, &r.UpdatedAt)
	}
	if err != nil {
		return core.Rule{}, err
	}
	r.Source = fromNullString(source)
	r.ExpiresAt = fromNullTime(expiresAt)
	return r, nil
}

// GetRule fetches one rule by family and id, active or not. Handlers use it
// to learn the rule's value before applying a fast-store delta.
func (s *Store) GetRule(ctx context.Context, family string, id int64) (*core.Rule, error) {
	table, ok := familyTables[family]
	if !ok {
		return nil, core.Validationf("unknown rule family %q", family)
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, %s, is_active, source, expires_at, created_at, updated_at
		FROM %s WHERE id = $1`, familyValueColumns(family), table), id)
	r, err := scanRule(row, family)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("%s rule %d", family, id))
	}
	return &r, nil
}

// UpsertRule inserts a rule or, on a natural-key collision, reactivates the
// existing row with the new source and expiry. Adding the same value twice
// is therefore a no-op rather than a Conflict.
func (s *Store) UpsertRule(ctx context.Context, r *core.Rule) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	if r.Source == "" {
		r.Source = "manual"
	}
	return s.upsertRuleTx(ctx, s.db, r)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) upsertRuleTx(ctx context.Context, db execer, r *core.Rule) (int64, error) {
	var (
		q    string
		args []interface{}
	)
	switch r.Family {
	case core.FamilyIP:
		q = `INSERT INTO blacklist_ips (user_id, ip_address, source, expires_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, ip_address) DO UPDATE
			SET is_active = true, source = EXCLUDED.source, expires_at = EXCLUDED.expires_at, updated_at = now()
			RETURNING id`
		args = []interface{}{r.UserID, r.IPAddress, r.Source, nullTime(r.ExpiresAt)}
	case core.FamilyIPRange:
		q = `INSERT INTO blacklist_ip_ranges (user_id, cidr, source, expires_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, cidr) DO UPDATE
			SET is_active = true, source = EXCLUDED.source, expires_at = EXCLUDED.expires_at, updated_at = now()
			RETURNING id`
		args = []interface{}{r.UserID, r.CIDR, r.Source, nullTime(r.ExpiresAt)}
	case core.FamilyUA:
		q = `INSERT INTO blacklist_uas (user_id, pattern, pattern_type, source, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, pattern, pattern_type) DO UPDATE
			SET is_active = true, source = EXCLUDED.source, expires_at = EXCLUDED.expires_at, updated_at = now()
			RETURNING id`
		args = []interface{}{r.UserID, r.Pattern, r.PatternType, r.Source, nullTime(r.ExpiresAt)}
	case core.FamilyISP:
		q = `INSERT INTO blacklist_isps (user_id, asn, isp_name, source, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, asn, isp_name) DO UPDATE
			SET is_active = true, source = EXCLUDED.source, expires_at = EXCLUDED.expires_at, updated_at = now()
			RETURNING id`
		args = []interface{}{r.UserID, r.ASN, r.ISPName, r.Source, nullTime(r.ExpiresAt)}
	case core.FamilyGeo:
		q = `INSERT INTO blacklist_geos (user_id, country_code, region_code, block_type, source, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, country_code, region_code) DO UPDATE
			SET is_active = true, block_type = EXCLUDED.block_type, source = EXCLUDED.source,
				expires_at = EXCLUDED.expires_at, updated_at = now()
			RETURNING id`
		args = []interface{}{r.UserID, strings.ToUpper(r.CountryCode), strings.ToUpper(r.RegionCode), r.BlockType, r.Source, nullTime(r.ExpiresAt)}
	}

	var id int64
	if err := db.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, mapError(err, fmt.Sprintf("upsert %s rule", r.Family))
	}
	return id, nil
}

// SoftDeactivateRule flips one rule inactive. The row stays for audit; the
// next materialization drops it from the fast store.
func (s *Store) SoftDeactivateRule(ctx context.Context, family string, id int64) error {
	table, ok := familyTables[family]
	if !ok {
		return core.Validationf("unknown rule family %q", family)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET is_active = false, updated_at = now() WHERE id = $1 AND is_active`, table), id)
	if err != nil {
		return mapError(err, fmt.Sprintf("deactivate %s rule %d", family, id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("%s rule %d", family, id)
	}
	return nil
}

// DeactivateExpired flips every rule whose expiry has passed, returning the
// number of rows changed per family so only touched families re-materialize.
func (s *Store) DeactivateExpired(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(core.Families))
	for _, family := range core.Families {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET is_active = false, updated_at = now()
			 WHERE is_active AND expires_at IS NOT NULL AND expires_at <= now()`,
			familyTables[family]))
		if err != nil {
			return counts, mapError(err, fmt.Sprintf("expire %s rules", family))
		}
		n, _ := res.RowsAffected()
		counts[family] = n
	}
	return counts, nil
}

// ReplaceSourceRules swaps the rule set imported from one external source in
// a single transaction: every row tagged source:<id> is deactivated, then
// the fresh parse is upserted. Readers never observe a half-replaced feed.
func (s *Store) ReplaceSourceRules(ctx context.Context, sourceID int64, rules []core.Rule) (int, error) {
	tag := core.SourceTag(sourceID)
	inserted := 0
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, family := range core.Families {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(
				`UPDATE %s SET is_active = false, updated_at = now() WHERE source = $1 AND is_active`,
				familyTables[family]), tag)
			if err != nil {
				return mapError(err, fmt.Sprintf("deactivate %s rules of %s", family, tag))
			}
		}
		for i := range rules {
			r := rules[i]
			r.Source = tag
			if err := r.Validate(); err != nil {
				return err
			}
			if _, err := s.upsertRuleTx(ctx, tx, &r); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// CountRules returns the number of active rules per family.
func (s *Store) CountRules(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(core.Families))
	for _, family := range core.Families {
		var n int64
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT COUNT(*) FROM %s WHERE is_active AND (expires_at IS NULL OR expires_at > now())`,
			familyTables[family])).Scan(&n)
		if err != nil {
			return counts, mapError(err, fmt.Sprintf("count %s rules", family))
		}
		counts[family] = n
	}
	return counts, nil
}
