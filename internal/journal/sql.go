package journal

import (
	"context"
	"database/sql"
	"strings"

	"github.com/dmitrijs2005/journalsync/internal/dbx"
)

// maxBatchParams bounds the number of placeholders per statement; SQLite
// historically limits host parameters to 999.
const maxBatchParams = 999

// entryColumns is the number of bound values per inserted entry row.
const entryColumns = 5

// SQLJournal implements Journal over any database/sql store with
// ON CONFLICT support (SQLite on devices, the per-identity server store).
type SQLJournal struct {
	db   *sql.DB
	feed *Feed
}

// NewSQLJournal wraps an open database. The schema must already be
// migrated (see OpenSQLite).
func NewSQLJournal(db *sql.DB) *SQLJournal {
	return &SQLJournal{db: db, feed: NewFeed()}
}

// Changes returns the feed of locally written entries.
func (j *SQLJournal) Changes() *Feed {
	return j.feed
}

// Close closes the change feed and the underlying database.
func (j *SQLJournal) Close() error {
	j.feed.Close()
	return j.db.Close()
}

// Write durably records the entry (no-op on duplicate ID), runs the side
// effect, then publishes the entry. The entry stays recorded and is still
// published even when the side effect fails.
func (j *SQLJournal) Write(ctx context.Context, e *Entry, sideEffect SideEffect) error {
	if err := j.InsertEntry(ctx, e); err != nil {
		return err
	}
	var effectErr error
	if sideEffect != nil {
		effectErr = sideEffect(ctx, e)
	}
	j.feed.Publish(e)
	return effectErr
}

// Entries returns all entries ordered by creation time ascending.
func (j *SQLJournal) Entries(ctx context.Context) ([]*Entry, error) {
	query := `SELECT id, event, primary_key, payload, timestamp FROM entries
		ORDER BY timestamp ASC, id ASC`
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("entries", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Event, &e.PrimaryKey, &e.Payload, &e.Timestamp); err != nil {
			return nil, wrapErr("entries", err)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("entries", err)
	}
	return result, nil
}

// InsertEntry inserts a single entry; a duplicate ID is a no-op.
func (j *SQLJournal) InsertEntry(ctx context.Context, e *Entry) error {
	return j.InsertEntries(ctx, []*Entry{e})
}

// InsertEntries inserts a batch with ON CONFLICT(id) DO NOTHING, chunked to
// respect the engine parameter limit. Duplicate IDs inside one batch or
// already stored are silently skipped; this is what makes replays and
// retried network writes safe.
func (j *SQLJournal) InsertEntries(ctx context.Context, entries []*Entry) error {
	return j.insertEntries(ctx, j.db, entries)
}

func (j *SQLJournal) insertEntries(ctx context.Context, db dbx.DBTX, entries []*Entry) error {
	chunkSize := maxBatchParams / entryColumns
	for start := 0; start < len(entries); start += chunkSize {
		end := min(start+chunkSize, len(entries))
		chunk := entries[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO entries (id, event, primary_key, payload, timestamp) VALUES `)
		args := make([]any, 0, len(chunk)*entryColumns)
		for i, e := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?)")
			args = append(args, e.ID, e.Event, e.PrimaryKey, e.Payload, e.Timestamp)
		}
		sb.WriteString(` ON CONFLICT(id) DO NOTHING`)

		if _, err := db.ExecContext(ctx, sb.String(), args...); err != nil {
			return wrapErr("insertEntries", err)
		}
	}
	return nil
}

// existingIDs returns the subset of ids already present, using chunked IN
// queries.
func (j *SQLJournal) existingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += maxBatchParams {
		end := min(start+maxBatchParams, len(ids))
		chunk := ids[start:end]

		query := `SELECT id FROM entries WHERE id IN (?` +
			strings.Repeat(", ?", len(chunk)-1) + `)`
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := j.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, wrapErr("existingIDs", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, wrapErr("existingIDs", err)
			}
			existing[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, wrapErr("existingIDs", err)
		}
		rows.Close()
	}
	return existing, nil
}

// WriteFromRemote ingests a batch received from a remote peer: entries not
// yet stored are inserted together with their (remoteID, entryID, sequence)
// rows, then each truly-new entry (optionally compacted first) is checked
// for conflicts and handed to resolve. Already-stored entries are deduped
// and produce no conflict callbacks.
func (j *SQLJournal) WriteFromRemote(ctx context.Context, remoteID string, incoming []RemoteEntry, compact CompactFunc, resolve ResolveFunc) error {
	if len(incoming) == 0 {
		return nil
	}

	ids := make([]string, len(incoming))
	for i, re := range incoming {
		ids[i] = re.Entry.ID
	}
	existing, err := j.existingIDs(ctx, ids)
	if err != nil {
		return err
	}

	var fresh []*Entry
	var commits []RemoteCommit
	for _, re := range incoming {
		commits = append(commits, RemoteCommit{EntryID: re.Entry.ID, Sequence: re.Sequence})
		if !existing[re.Entry.ID] {
			fresh = append(fresh, re.Entry)
		}
	}

	if err := j.insertEntries(ctx, j.db, fresh); err != nil {
		return err
	}
	if err := j.recordCommits(ctx, remoteID, commits); err != nil {
		return err
	}

	checked := fresh
	if compact != nil {
		checked = compact(fresh)
	}
	for _, e := range checked {
		conflicts, err := j.conflictScan(ctx, e)
		if err != nil {
			return err
		}
		if resolve != nil {
			if err := resolve(ctx, Conflict{Entry: e, Conflicts: conflicts}); err != nil {
				return err
			}
		}
		j.feed.Publish(e)
	}
	return nil
}

// conflictScan returns stored entries sharing (Event, PrimaryKey) with
// Timestamp >= the given entry's, ascending, excluding the entry itself.
// The >= bound keeps the result a superset of true conflicts; wall clocks
// across devices are not trusted for anything finer.
func (j *SQLJournal) conflictScan(ctx context.Context, e *Entry) ([]*Entry, error) {
	query := `SELECT id, event, primary_key, payload, timestamp FROM entries
		WHERE event = ? AND primary_key = ? AND timestamp >= ? AND id <> ?
		ORDER BY timestamp ASC, id ASC`
	rows, err := j.db.QueryContext(ctx, query, e.Event, e.PrimaryKey, e.Timestamp, e.ID)
	if err != nil {
		return nil, wrapErr("conflictScan", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		var c Entry
		if err := rows.Scan(&c.ID, &c.Event, &c.PrimaryKey, &c.Payload, &c.Timestamp); err != nil {
			return nil, wrapErr("conflictScan", err)
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("conflictScan", err)
	}
	return result, nil
}

// recordCommits stores (remoteID, entryID, sequence) rows, skipping rows
// already recorded.
func (j *SQLJournal) recordCommits(ctx context.Context, remoteID string, commits []RemoteCommit) error {
	chunkSize := maxBatchParams / 3
	for start := 0; start < len(commits); start += chunkSize {
		end := min(start+chunkSize, len(commits))
		chunk := commits[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO remotes (remote_id, entry_id, sequence) VALUES `)
		args := make([]any, 0, len(chunk)*3)
		for i, c := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?)")
			args = append(args, remoteID, c.EntryID, c.Sequence)
		}
		sb.WriteString(` ON CONFLICT(remote_id, entry_id) DO NOTHING`)

		if _, err := j.db.ExecContext(ctx, sb.String(), args...); err != nil {
			return wrapErr("recordCommits", err)
		}
	}
	return nil
}

// WithRemoteUncommitted selects local entries never yet committed to the
// given remote, oldest first, and hands them to fn. fn transmits them and
// returns the sequences the remote assigned, which are then recorded so the
// entries are not sent again.
func (j *SQLJournal) WithRemoteUncommitted(ctx context.Context, remoteID string, fn func(ctx context.Context, entries []*Entry) ([]RemoteCommit, error)) error {
	query := `SELECT e.id, e.event, e.primary_key, e.payload, e.timestamp FROM entries e
		WHERE NOT EXISTS (
			SELECT 1 FROM remotes r WHERE r.remote_id = ? AND r.entry_id = e.id
		)
		ORDER BY e.timestamp ASC, e.id ASC`
	rows, err := j.db.QueryContext(ctx, query, remoteID)
	if err != nil {
		return wrapErr("withRemoteUncommitted", err)
	}

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Event, &e.PrimaryKey, &e.Payload, &e.Timestamp); err != nil {
			rows.Close()
			return wrapErr("withRemoteUncommitted", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return wrapErr("withRemoteUncommitted", err)
	}
	rows.Close()

	if len(entries) == 0 {
		return nil
	}
	commits, err := fn(ctx, entries)
	if err != nil {
		return err
	}
	return j.recordCommits(ctx, remoteID, commits)
}

// NextRemoteSequence returns max(sequence)+1 for the remote; 1 if the
// remote has no rows yet. This is the cursor a replica uses to request
// changes since its last known point.
func (j *SQLJournal) NextRemoteSequence(ctx context.Context, remoteID string) (int64, error) {
	query := `SELECT COALESCE(MAX(sequence), 0) FROM remotes WHERE remote_id = ?`
	var maxSeq int64
	if err := j.db.QueryRowContext(ctx, query, remoteID).Scan(&maxSeq); err != nil {
		return 0, wrapErr("nextRemoteSequence", err)
	}
	return maxSeq + 1, nil
}

// CommitLocal assigns the next sequence for the entry under the given
// remote and returns it. The server journal uses this with its own remote
// id to build the change stream served by RequestChanges.
func (j *SQLJournal) CommitLocal(ctx context.Context, remoteID, entryID string) (int64, error) {
	seq, err := j.NextRemoteSequence(ctx, remoteID)
	if err != nil {
		return 0, err
	}
	query := `INSERT INTO remotes (remote_id, entry_id, sequence) VALUES (?, ?, ?)
		ON CONFLICT(remote_id, entry_id) DO NOTHING`
	res, err := j.db.ExecContext(ctx, query, remoteID, entryID, seq)
	if err != nil {
		return 0, wrapErr("commitLocal", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("commitLocal", err)
	}
	if n == 0 {
		// Already committed earlier; report the recorded sequence.
		var existing int64
		err := j.db.QueryRowContext(ctx,
			`SELECT sequence FROM remotes WHERE remote_id = ? AND entry_id = ?`,
			remoteID, entryID).Scan(&existing)
		if err != nil {
			return 0, wrapErr("commitLocal", err)
		}
		return existing, nil
	}
	return seq, nil
}

// ChangesSince returns entries committed to the remote with sequence >=
// start, ordered by sequence ascending.
func (j *SQLJournal) ChangesSince(ctx context.Context, remoteID string, start int64) ([]RemoteEntry, error) {
	query := `SELECT e.id, e.event, e.primary_key, e.payload, e.timestamp, r.sequence
		FROM remotes r JOIN entries e ON e.id = r.entry_id
		WHERE r.remote_id = ? AND r.sequence >= ?
		ORDER BY r.sequence ASC`
	rows, err := j.db.QueryContext(ctx, query, remoteID, start)
	if err != nil {
		return nil, wrapErr("changesSince", err)
	}
	defer rows.Close()

	var result []RemoteEntry
	for rows.Next() {
		var e Entry
		var seq int64
		if err := rows.Scan(&e.ID, &e.Event, &e.PrimaryKey, &e.Payload, &e.Timestamp, &seq); err != nil {
			return nil, wrapErr("changesSince", err)
		}
		result = append(result, RemoteEntry{Entry: &e, Sequence: seq})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("changesSince", err)
	}
	return result, nil
}

// UsedStorage reports the payload bytes currently stored, used for tier
// storage quota checks.
func (j *SQLJournal) UsedStorage(ctx context.Context) (int64, error) {
	var size int64
	err := j.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(LENGTH(payload)), 0) FROM entries`).Scan(&size)
	if err != nil {
		return 0, wrapErr("usedStorage", err)
	}
	return size, nil
}
