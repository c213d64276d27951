package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) GetModuleConfig(ctx context.Context, guildID, module string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT config FROM guild_modules WHERE guild_id = ? AND module = ?
	`), guildID, module)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(raw), true, nil
}

func (s *Store) SetModuleConfig(ctx context.Context, guildID, module string, config []byte) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO guild_modules (guild_id, module, config, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id, module) DO UPDATE SET
			config = excluded.config,
			updated_at = excluded.updated_at
	`), guildID, module, string(config), time.Now().Unix())
	return err
}

func (s *Store) IsPremium(ctx context.Context, guildID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM premium_guilds WHERE guild_id = ?`), guildID)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) SetPremium(ctx context.Context, guildID string, premium bool) error {
	if !premium {
		_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM premium_guilds WHERE guild_id = ?`), guildID)
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO premium_guilds (guild_id, since) VALUES (?, ?)
		ON CONFLICT(guild_id) DO NOTHING
	`), guildID, time.Now().Unix())
	return err
}
