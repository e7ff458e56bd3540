// Package archive persists ledger blocks, audit entries, and incidents to
// Postgres. The in-memory chains are the source of truth; the archive is a
// best-effort durable copy used for replay after a restart. Callers log write
// failures and move on, they never roll back a committed chain append.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"agrichain/pkg/audit"
	"agrichain/pkg/compliance"
	"agrichain/pkg/ledger"
)

type Store struct {
	DB  *pgxpool.Pool
	Log *slog.Logger
}

func New(db *pgxpool.Pool, log *slog.Logger) *Store {
	return &Store{DB: db, Log: log}
}

// EnsureSchema creates the archive tables. Primary keys are the chain
// coordinates; replayed writes after a crash land on conflict and are
// ignored.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_blocks(
  block_index   BIGINT PRIMARY KEY,
  block_hash    TEXT NOT NULL,
  previous_hash TEXT NOT NULL,
  recorded_at   BIGINT NOT NULL,
  body          JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_entries(
  audit_id    TEXT PRIMARY KEY,
  entry_index BIGINT NOT NULL,
  event_type  TEXT NOT NULL,
  recorded_at BIGINT NOT NULL,
  body        JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS incidents(
  incident_id TEXT PRIMARY KEY,
  batch_id    TEXT NOT NULL,
  supplier_id TEXT NOT NULL,
  severity    TEXT NOT NULL,
  status      TEXT NOT NULL,
  body        JSONB NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) SaveBlock(ctx context.Context, b ledger.Block) error {
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block %d: %w", b.Index, err)
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO ledger_blocks(block_index,block_hash,previous_hash,recorded_at,body)
VALUES($1,$2,$3,$4,$5::jsonb)
ON CONFLICT (block_index) DO NOTHING
`, b.Index, b.Hash, b.PreviousHash, b.Timestamp, string(body))
	if err != nil {
		return fmt.Errorf("save block %d: %w", b.Index, err)
	}
	return nil
}

func (s *Store) SaveAuditEntry(ctx context.Context, e audit.Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry %s: %w", e.AuditID, err)
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO audit_entries(audit_id,entry_index,event_type,recorded_at,body)
VALUES($1,$2,$3,$4,$5::jsonb)
ON CONFLICT (audit_id) DO NOTHING
`, e.AuditID, e.Index, e.EventType, e.Timestamp, string(body))
	if err != nil {
		return fmt.Errorf("save audit entry %s: %w", e.AuditID, err)
	}
	return nil
}

func (s *Store) SaveIncident(ctx context.Context, inc compliance.Incident) error {
	body, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident %s: %w", inc.IncidentID, err)
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO incidents(incident_id,batch_id,supplier_id,severity,status,body)
VALUES($1,$2,$3,$4,$5,$6::jsonb)
ON CONFLICT (incident_id) DO UPDATE SET
  severity=EXCLUDED.severity,
  status=EXCLUDED.status,
  body=EXCLUDED.body
`, inc.IncidentID, inc.BatchID, inc.SupplierID, string(inc.Severity), string(inc.Status), string(body))
	if err != nil {
		return fmt.Errorf("save incident %s: %w", inc.IncidentID, err)
	}
	return nil
}

// LoadBlocks returns every archived block in chain order, for verified
// replay at startup.
func (s *Store) LoadBlocks(ctx context.Context) ([]ledger.Block, error) {
	rows, err := s.DB.Query(ctx, `SELECT body FROM ledger_blocks ORDER BY block_index ASC`)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	defer rows.Close()

	var out []ledger.Block
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var b ledger.Block
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("decode archived block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ArchiveBlock is the fire-and-forget wrapper the server uses on the hot
// path: the chain append already committed, so a failed write is logged and
// swallowed.
func (s *Store) ArchiveBlock(ctx context.Context, b ledger.Block) {
	if s == nil {
		return
	}
	if err := s.SaveBlock(ctx, b); err != nil {
		s.Log.Warn("block archive write failed", "index", b.Index, "err", err)
	}
}

func (s *Store) ArchiveAuditEntry(ctx context.Context, e audit.Entry) {
	if s == nil {
		return
	}
	if err := s.SaveAuditEntry(ctx, e); err != nil {
		s.Log.Warn("audit archive write failed", "auditID", e.AuditID, "err", err)
	}
}

func (s *Store) ArchiveIncident(ctx context.Context, inc compliance.Incident) {
	if s == nil {
		return
	}
	if err := s.SaveIncident(ctx, inc); err != nil {
		s.Log.Warn("incident archive write failed", "incidentID", inc.IncidentID, "err", err)
	}
}
