package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/autoguard/backend/internal/core"
)

var cloakLogCopyColumns = []string{
	"user_id", "offer_id", "ip_address", "user_agent", "referer", "request_url",
	"decision", "decision_reason", "fraud_score", "blocked_at_layer", "detection_details",
	"ip_country", "ip_city", "ip_isp", "ip_asn",
	"is_datacenter", "is_vpn", "is_proxy",
	"processing_time_ms", "has_tracking_params", "gclid", "created_at",
}

// InsertCloakLogs bulk-loads a batch of decision records via COPY. The
// drain loop calls this with whatever it popped from the fast-store buffer,
// so the batch is all-or-nothing.
func (s *Store) InsertCloakLogs(ctx context.Context, logs []core.CloakLog) error {
	if len(logs) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("cloak_logs", cloakLogCopyColumns...))
		if err != nil {
			return fmt.Errorf("prepare cloak_logs copy: %w", err)
		}
		defer stmt.Close()

		for i := range logs {
			l := &logs[i]
			var details interface{}
			if l.DetectionDetails != nil {
				raw, err := json.Marshal(l.DetectionDetails)
				if err != nil {
					return core.Validationf("detection details not serializable: %v", err)
				}
				details = string(raw)
			}
			createdAt := l.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			_, err := stmt.ExecContext(ctx,
				l.UserID, l.OfferID, l.IPAddress, l.UserAgent, nullString(l.Referer), l.RequestURL,
				l.Decision, nullString(l.DecisionReason), l.FraudScore, nullString(l.BlockedAtLayer), details,
				nullString(l.IPCountry), nullString(l.IPCity), nullString(l.IPISP), nullString(l.IPASN),
				l.IsDatacenter, l.IsVPN, l.IsProxy,
				l.ProcessingTimeMs, l.HasTrackingParams, nullString(l.GclID), createdAt)
			if err != nil {
				return fmt.Errorf("copy cloak log: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("flush cloak_logs copy: %w", err)
		}
		return nil
	})
}

const cloakLogColumns = `id, user_id, offer_id, ip_address, user_agent, referer, request_url,
	decision, decision_reason, fraud_score, blocked_at_layer, detection_details,
	ip_country, ip_city, ip_isp, ip_asn, is_datacenter, is_vpn, is_proxy,
	processing_time_ms, has_tracking_params, gclid, created_at`

func scanCloakLog(row scanner) (*core.CloakLog, error) {
	var (
		l                              core.CloakLog
		referer, reason, layer         sql.NullString
		country, city, isp, asn, gclid sql.NullString
		details                        []byte
	)
	err := row.Scan(&l.ID, &l.UserID, &l.OfferID, &l.IPAddress, &l.UserAgent, &referer, &l.RequestURL,
		&l.Decision, &reason, &l.FraudScore, &layer, &details,
		&country, &city, &isp, &asn, &l.IsDatacenter, &l.IsVPN, &l.IsProxy,
		&l.ProcessingTimeMs, &l.HasTrackingParams, &gclid, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.Referer = fromNullString(referer)
	l.DecisionReason = fromNullString(reason)
	l.BlockedAtLayer = fromNullString(layer)
	l.IPCountry = fromNullString(country)
	l.IPCity = fromNullString(city)
	l.IPISP = fromNullString(isp)
	l.IPASN = fromNullString(asn)
	l.GclID = fromNullString(gclid)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &l.DetectionDetails); err != nil {
			return nil, fmt.Errorf("decode detection details: %w", err)
		}
	}
	return &l, nil
}

// ListRecentLogs returns the newest decision records, optionally filtered
// to one offer (offerID 0 means all offers).
func (s *Store) ListRecentLogs(ctx context.Context, offerID int64, limit int) ([]*core.CloakLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cloakLogColumns+` FROM cloak_logs
		WHERE ($1 = 0 OR offer_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, offerID, limit)
	if err != nil {
		return nil, mapError(err, "list cloak logs")
	}
	defer rows.Close()

	var out []*core.CloakLog
	for rows.Next() {
		l, err := scanCloakLog(rows)
		if err != nil {
			return nil, mapError(err, "scan cloak log")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteLogsBefore drops decision records older than the cutoff. Retention
// runs this daily with cutoff = now - log_retention_days.
func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cloak_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, mapError(err, "delete old cloak logs")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
