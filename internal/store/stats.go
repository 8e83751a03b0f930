package store

import (
	"context"
	"time"

	"github.com/autoguard/backend/internal/core"
)

// UpsertDailyStatsFor recomputes the per-offer aggregates for one UTC day
// from cloak_logs and upserts them. Re-running the same day overwrites the
// previous aggregates, so late-drained logs are picked up on the next pass.
func (s *Store) UpsertDailyStatsFor(ctx context.Context, day time.Time) (int64, error) {
	date := day.UTC().Format("2006-01-02")
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (user_id, offer_id, stat_date, total_visits,
			money_page_visits, safe_page_visits, unique_ips, avg_fraud_score,
			blocked_l1, blocked_l2, blocked_l3, blocked_l4, blocked_l5, blocked_timeout, updated_at)
		SELECT user_id, offer_id, $1::date,
			COUNT(*),
			COUNT(*) FILTER (WHERE decision = 'money'),
			COUNT(*) FILTER (WHERE decision = 'safe'),
			COUNT(DISTINCT ip_address),
			COALESCE(AVG(fraud_score), 0),
			COUNT(*) FILTER (WHERE blocked_at_layer = 'L1'),
			COUNT(*) FILTER (WHERE blocked_at_layer = 'L2'),
			COUNT(*) FILTER (WHERE blocked_at_layer = 'L3'),
			COUNT(*) FILTER (WHERE blocked_at_layer = 'L4'),
			COUNT(*) FILTER (WHERE blocked_at_layer = 'L5'),
			COUNT(*) FILTER (WHERE blocked_at_layer = 'TIMEOUT'),
			now()
		FROM cloak_logs
		WHERE created_at >= $1::date AND created_at < $1::date + interval '1 day'
		GROUP BY user_id, offer_id
		ON CONFLICT (user_id, offer_id, stat_date) DO UPDATE SET
			total_visits = EXCLUDED.total_visits,
			money_page_visits = EXCLUDED.money_page_visits,
			safe_page_visits = EXCLUDED.safe_page_visits,
			unique_ips = EXCLUDED.unique_ips,
			avg_fraud_score = EXCLUDED.avg_fraud_score,
			blocked_l1 = EXCLUDED.blocked_l1,
			blocked_l2 = EXCLUDED.blocked_l2,
			blocked_l3 = EXCLUDED.blocked_l3,
			blocked_l4 = EXCLUDED.blocked_l4,
			blocked_l5 = EXCLUDED.blocked_l5,
			blocked_timeout = EXCLUDED.blocked_timeout,
			updated_at = now()`, date)
	if err != nil {
		return 0, mapError(err, "upsert daily stats")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListDailyStats reads aggregates for one user over a date range,
// optionally narrowed to a single offer (offerID 0 means all).
func (s *Store) ListDailyStats(ctx context.Context, userID, offerID int64, from, to time.Time) ([]core.DailyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, offer_id, to_char(stat_date, 'YYYY-MM-DD'), total_visits,
			money_page_visits, safe_page_visits, unique_ips, avg_fraud_score,
			blocked_l1, blocked_l2, blocked_l3, blocked_l4, blocked_l5, blocked_timeout, updated_at
		FROM daily_stats
		WHERE user_id = $1
			AND ($2 = 0 OR offer_id = $2)
			AND stat_date BETWEEN $3::date AND $4::date
		ORDER BY stat_date, offer_id`,
		userID, offerID, from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, mapError(err, "list daily stats")
	}
	defer rows.Close()

	var out []core.DailyStat
	for rows.Next() {
		var d core.DailyStat
		err := rows.Scan(&d.UserID, &d.OfferID, &d.StatDate, &d.TotalVisits,
			&d.MoneyPageVisits, &d.SafePageVisits, &d.UniqueIPs, &d.AvgFraudScore,
			&d.BlockedL1, &d.BlockedL2, &d.BlockedL3, &d.BlockedL4, &d.BlockedL5,
			&d.BlockedTimeout, &d.UpdatedAt)
		if err != nil {
			return nil, mapError(err, "scan daily stat")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
