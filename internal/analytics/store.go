// Package analytics persists episode records in sqlite and links uploaded
// evidence clips back onto them.
package analytics

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/floorsight-data/floorsight/internal/event"
)

// SchemaVersion tags exported summaries so downstream consumers can tell
// payload generations apart.
const SchemaVersion = "1.1"

var ErrUnknownEpisode = errors.New("analytics: unknown episode")

// Store wraps the sqlite database holding analytics records.
type Store struct {
	*sql.DB
}

// Open opens (or creates) the database at path and brings the schema up
// to date. Use ":memory:" for throwaway stores.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// A single writer keeps sqlite happy under the worker goroutines.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	s := &Store{DB: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Record is one episode row.
type Record struct {
	EventID    string
	Kind       event.Kind
	StreamID   string
	StaffID    string
	CustomerID string
	Zone       string
	Start      time.Time
	End        time.Time // zero while the episode is open
	Duration   time.Duration
	Position   int
	Overflow   bool
	Resolution string
	Reason     string

	UploadedRef  string
	EvidenceURL  string
	IncidentID   string
	EvidenceTime time.Time
}

// Open reports whether the episode has not ended yet.
func (r Record) Open() bool { return r.End.IsZero() }

// StartEpisode inserts an open record for a start event. Records are
// created at episode start so evidence can attach even when the clip
// uploads before the episode ends.
func (s *Store) StartEpisode(e event.Event) error {
	now := time.Now().UnixMilli()
	_, err := s.Exec(`
		INSERT INTO analytics_records
			(event_id, kind, stream_id, staff_id, customer_id, zone,
			 start_ms, position, overflow, created_ms, updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.StreamID, e.StaffID, e.CustomerID, e.Zone,
		e.Start.UnixMilli(), e.Position, boolInt(e.Overflow), now, now)
	if err != nil {
		return fmt.Errorf("start episode %s: %w", e.ID, err)
	}
	return nil
}

// EndEpisode finalizes the record for an end event.
func (s *Store) EndEpisode(e event.Event) error {
	res, err := s.Exec(`
		UPDATE analytics_records
		SET end_ms = ?, duration_ms = ?, position = ?, resolution = ?,
		    reason = ?, updated_ms = ?
		WHERE event_id = ?`,
		e.End.UnixMilli(), e.Duration.Milliseconds(), e.Position,
		nullStr(e.Resolution), nullStr(e.Reason), time.Now().UnixMilli(), e.ID)
	if err != nil {
		return fmt.Errorf("end episode %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end episode %s: %w", e.ID, ErrUnknownEpisode)
	}
	return nil
}

// LinkEvidence attaches an uploaded clip to an episode record. The link
// is write-once: the first upload wins and later calls return false with
// no error, so retried uploads stay idempotent. An unknown episode id
// returns ErrUnknownEpisode.
func (s *Store) LinkEvidence(eventID, ref, url, incidentID string, at time.Time) (bool, error) {
	res, err := s.Exec(`
		UPDATE analytics_records
		SET uploaded_ref = ?, evidence_url = ?, incident_id = ?,
		    evidence_ms = ?, updated_ms = ?
		WHERE event_id = ? AND uploaded_ref IS NULL`,
		ref, nullStr(url), nullStr(incidentID), at.UnixMilli(),
		time.Now().UnixMilli(), eventID)
	if err != nil {
		return false, fmt.Errorf("link evidence %s: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	var exists int
	err = s.QueryRow(`SELECT 1 FROM analytics_records WHERE event_id = ?`, eventID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, ErrUnknownEpisode
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// GetRecord fetches one episode record by event id.
func (s *Store) GetRecord(eventID string) (Record, error) {
	row := s.QueryRow(`
		SELECT event_id, kind, stream_id,
		       COALESCE(staff_id, ''), COALESCE(customer_id, ''), COALESCE(zone, ''),
		       start_ms, end_ms, duration_ms, position, overflow,
		       COALESCE(resolution, ''), COALESCE(reason, ''),
		       COALESCE(uploaded_ref, ''), COALESCE(evidence_url, ''),
		       COALESCE(incident_id, ''), evidence_ms
		FROM analytics_records WHERE event_id = ?`, eventID)

	var r Record
	var kind string
	var startMS int64
	var endMS, durMS, evidenceMS sql.NullInt64
	var overflow int
	err := row.Scan(&r.EventID, &kind, &r.StreamID, &r.StaffID, &r.CustomerID, &r.Zone,
		&startMS, &endMS, &durMS, &r.Position, &overflow,
		&r.Resolution, &r.Reason, &r.UploadedRef, &r.EvidenceURL, &r.IncidentID, &evidenceMS)
	if err == sql.ErrNoRows {
		return Record{}, ErrUnknownEpisode
	}
	if err != nil {
		return Record{}, err
	}

	r.Kind = event.Kind(kind)
	r.Start = time.UnixMilli(startMS)
	if endMS.Valid {
		r.End = time.UnixMilli(endMS.Int64)
	}
	if durMS.Valid {
		r.Duration = time.Duration(durMS.Int64) * time.Millisecond
	}
	if evidenceMS.Valid {
		r.EvidenceTime = time.UnixMilli(evidenceMS.Int64)
	}
	r.Overflow = overflow != 0
	return r, nil
}

// ClosedDurations returns the durations of closed episodes of the given
// kind inside [from, to), in seconds.
func (s *Store) ClosedDurations(kind event.Kind, from, to time.Time) ([]float64, error) {
	rows, err := s.Query(`
		SELECT duration_ms FROM analytics_records
		WHERE kind = ? AND end_ms IS NOT NULL AND start_ms >= ? AND start_ms < ?
		ORDER BY duration_ms`,
		string(kind), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		out = append(out, float64(ms)/1000)
	}
	return out, rows.Err()
}

// CountByResolution tallies queue departures by resolution in [from, to).
func (s *Store) CountByResolution(from, to time.Time) (map[string]int, error) {
	rows, err := s.Query(`
		SELECT resolution, COUNT(*) FROM analytics_records
		WHERE kind = ? AND resolution IS NOT NULL AND start_ms >= ? AND start_ms < ?
		GROUP BY resolution`,
		string(event.QueueJoined), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var res string
		var n int
		if err := rows.Scan(&res, &n); err != nil {
			return nil, err
		}
		out[res] = n
	}
	return out, rows.Err()
}

// CountEvidence returns how many records in [from, to) carry evidence.
func (s *Store) CountEvidence(from, to time.Time) (int, error) {
	var n int
	err := s.QueryRow(`
		SELECT COUNT(*) FROM analytics_records
		WHERE uploaded_ref IS NOT NULL AND start_ms >= ? AND start_ms < ?`,
		from.UnixMilli(), to.UnixMilli()).Scan(&n)
	return n, err
}

// CountHourly tallies episode starts in [from, to) per hour and kind.
// Keys of the outer map are hour starts in unix milliseconds.
func (s *Store) CountHourly(from, to time.Time) (map[int64]map[event.Kind]int, error) {
	rows, err := s.Query(`
		SELECT (start_ms / 3600000) * 3600000, kind, COUNT(*)
		FROM analytics_records
		WHERE start_ms >= ? AND start_ms < ?
		GROUP BY 1, 2`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]map[event.Kind]int)
	for rows.Next() {
		var hourMS int64
		var kind string
		var n int
		if err := rows.Scan(&hourMS, &kind, &n); err != nil {
			return nil, err
		}
		if out[hourMS] == nil {
			out[hourMS] = make(map[event.Kind]int)
		}
		out[hourMS][event.Kind(kind)] = n
	}
	return out, rows.Err()
}

// MetaVersion returns the schema version recorded in schema_meta.
func (s *Store) MetaVersion() (string, error) {
	var v string
	err := s.QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&v)
	if err != nil {
		return "", fmt.Errorf("read schema_meta: %w", err)
	}
	return v, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullStr maps "" to NULL so COALESCE-free queries and the write-once
// evidence guard behave.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
