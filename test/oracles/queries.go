package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each must yield zero rows on a healthy
// database; any row is a violation.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_no_negative_balance",
			SQL:  `SELECT principal_id, balance FROM accounts WHERE balance < 0`,
		},
		{
			// Settlement zeroes value in the same tx that pays out, void and
			// expiry retain it, so the custody account always equals the sum
			// of record value for its ledger.
			Name: "O2_custody_conservation",
			SQL: `SELECT l.id, a.balance, COALESCE(s.total, 0) AS recorded
                  FROM ledgers l
                  JOIN accounts a ON a.principal_id = 'custody:' || l.id::text
                  LEFT JOIN (SELECT ledger_id, SUM(value) AS total FROM records GROUP BY ledger_id) s
                    ON s.ledger_id = l.id
                  WHERE a.balance <> COALESCE(s.total, 0)`,
		},
		{
			Name: "O3_settled_records_hold_nothing",
			SQL: `SELECT ledger_id, key, status, value FROM records
                  WHERE status IN ('redeemed','cancelled') AND value <> 0`,
		},
		{
			Name: "O4_history_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT ledger_id, record_key, seq,
                             LAG(seq) OVER (PARTITION BY ledger_id, record_key ORDER BY seq) AS prev
                      FROM history)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			// Voided and cancelled seats are released back to the pool, so
			// only the remaining children are bounded by capacity.
			Name: "O5_capacity_respected",
			SQL: `SELECT e.ledger_id, e.key, e.capacity, COUNT(r.id) AS admitted
                  FROM records e
                  JOIN records r ON r.ledger_id = e.ledger_id AND r.parent_key = e.key
                  WHERE e.kind = 'event' AND r.status NOT IN ('voided', 'cancelled')
                  GROUP BY e.ledger_id, e.key, e.capacity
                  HAVING COUNT(r.id) > e.capacity`,
		},
		{
			// The check-in flag and the refund settle in one tx; a checked-in
			// seat that is still active means a torn write.
			Name: "O6_checkin_settles",
			SQL: `SELECT ledger_id, key FROM records
                  WHERE kind = 'rsvp' AND checked_in AND status = 'active'`,
		},
		{
			Name: "O7_outbox_drains",
			SQL: `SELECT id, topic FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_terminal_keys_unique",
			SQL: `SELECT ledger_id, key, COUNT(*) FROM records
                  GROUP BY ledger_id, key HAVING COUNT(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and a sample
// row) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
