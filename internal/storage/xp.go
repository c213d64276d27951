package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type XPStanding struct {
	GuildID string
	UserID  string
	XP      int64
	Rank    int
}

// AddXP atomically adds delta and returns the new cumulative total.
func (s *Store) AddXP(ctx context.Context, guildID, userID string, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("xp delta must be positive, got %d", delta)
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO user_xp (guild_id, user_id, xp, first_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			xp = user_xp.xp + excluded.xp
		RETURNING xp
	`), guildID, userID, delta, time.Now().UnixNano())

	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// GetXPAndRank returns the user's XP and 1-based rank in the guild. Users with
// equal XP are ordered by when they first earned XP. A user without a record
// has zero XP and is ranked after everyone who has one.
func (s *Store) GetXPAndRank(ctx context.Context, guildID, userID string) (XPStanding, error) {
	standing := XPStanding{GuildID: guildID, UserID: userID}

	var firstSeen int64
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT xp, first_seen FROM user_xp WHERE guild_id = ? AND user_id = ?
	`), guildID, userID)
	err := row.Scan(&standing.XP, &firstSeen)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return XPStanding{}, err
	}
	if errors.Is(err, sql.ErrNoRows) {
		var total int
		if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM user_xp WHERE guild_id = ?`), guildID).Scan(&total); err != nil {
			return XPStanding{}, err
		}
		standing.Rank = total + 1
		return standing, nil
	}

	var ahead int
	row = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM user_xp
		WHERE guild_id = ?
		AND (xp > ? OR (xp = ? AND (first_seen < ? OR (first_seen = ? AND user_id < ?))))
	`), guildID, standing.XP, standing.XP, firstSeen, firstSeen, userID)
	if err := row.Scan(&ahead); err != nil {
		return XPStanding{}, err
	}
	standing.Rank = ahead + 1
	return standing, nil
}

func (s *Store) TopXP(ctx context.Context, guildID string, limit int) ([]XPStanding, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT user_id, xp FROM user_xp
		WHERE guild_id = ?
		ORDER BY xp DESC, first_seen ASC, user_id ASC
		LIMIT ?
	`), guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []XPStanding
	for rows.Next() {
		entry := XPStanding{GuildID: guildID, Rank: len(out) + 1}
		if err := rows.Scan(&entry.UserID, &entry.XP); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
