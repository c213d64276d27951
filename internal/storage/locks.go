package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrLockExists = errors.New("lock record already exists")

type LockRecord struct {
	ChannelID string
	GuildID   string
	Snapshot  []byte
	LockedBy  string
	Reason    string
	CreatedAt time.Time
}

func (s *Store) GetLockRecord(ctx context.Context, channelID string) (LockRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT channel_id, guild_id, snapshot, locked_by, reason, created_at
		FROM channel_locks WHERE channel_id = ?
	`), channelID)

	rec, err := scanLockRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LockRecord{}, false, nil
		}
		return LockRecord{}, false, err
	}
	return rec, true, nil
}

// PutLockRecord inserts the record only when the channel has none; an existing
// record is never overwritten and yields ErrLockExists.
func (s *Store) PutLockRecord(ctx context.Context, rec LockRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO channel_locks (channel_id, guild_id, snapshot, locked_by, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO NOTHING
	`), rec.ChannelID, rec.GuildID, rec.Snapshot, rec.LockedBy, rec.Reason, rec.CreatedAt.Unix())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrLockExists
	}
	return nil
}

// DeleteLockRecord removes and returns the record in one statement.
func (s *Store) DeleteLockRecord(ctx context.Context, channelID string) (LockRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		DELETE FROM channel_locks WHERE channel_id = ?
		RETURNING channel_id, guild_id, snapshot, locked_by, reason, created_at
	`), channelID)

	rec, err := scanLockRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LockRecord{}, false, nil
		}
		return LockRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ListLockRecords(ctx context.Context, guildID string) ([]LockRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT channel_id, guild_id, snapshot, locked_by, reason, created_at
		FROM channel_locks WHERE guild_id = ?
		ORDER BY created_at, channel_id
	`), guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LockRecord
	for rows.Next() {
		rec, err := scanLockRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLockRecord(row rowScanner) (LockRecord, error) {
	var rec LockRecord
	var created int64
	if err := row.Scan(&rec.ChannelID, &rec.GuildID, &rec.Snapshot, &rec.LockedBy, &rec.Reason, &created); err != nil {
		return LockRecord{}, err
	}
	rec.CreatedAt = time.Unix(created, 0)
	return rec, nil
}
