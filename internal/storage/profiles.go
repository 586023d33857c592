package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aerodocs/aipdeck/internal/model"
)

// ListProfiles returns all profiles ordered by name for stable display.
func (d *DB) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name, flight_rule, filters, enabled FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []model.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// GetProfile returns the profile with the given name, or ErrNotFound.
func (d *DB) GetProfile(ctx context.Context, name string) (model.Profile, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT name, flight_rule, filters, enabled FROM profiles WHERE name = ?`, name)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, ErrNotFound
	}
	return p, err
}

// CreateProfile inserts a new profile. Returns ErrDuplicate when a profile
// with the same name already exists; the existing row is left unmodified.
func (d *DB) CreateProfile(ctx context.Context, p model.Profile) error {
	filters, err := marshalFilters(p.Filters)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	// ON CONFLICT DO NOTHING keeps the duplicate check and the insert in one
	// atomic statement; zero affected rows means the name already existed.
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO profiles (name, flight_rule, filters, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO NOTHING`,
		p.Name, string(p.FlightRule), filters, p.Enabled, now, now)
	if err != nil {
		return fmt.Errorf("storage: create profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: create profile: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// UpdateProfile replaces all fields of the named profile, or returns ErrNotFound.
func (d *DB) UpdateProfile(ctx context.Context, name string, p model.Profile) error {
	filters, err := marshalFilters(p.Filters)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE profiles SET name = ?, flight_rule = ?, filters = ?, enabled = ?, updated_at = ?
		 WHERE name = ?`,
		p.Name, string(p.FlightRule), filters, p.Enabled, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("storage: update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update profile: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProfile removes the named profile, or returns ErrNotFound.
// Past run records referencing the name are untouched.
func (d *DB) DeleteProfile(ctx context.Context, name string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("storage: delete profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: delete profile: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (model.Profile, error) {
	var p model.Profile
	var rule, filters string
	if err := row.Scan(&p.Name, &rule, &filters, &p.Enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Profile{}, err
		}
		return model.Profile{}, fmt.Errorf("storage: scan profile: %w", err)
	}
	p.FlightRule = model.FlightRule(rule)
	if err := json.Unmarshal([]byte(filters), &p.Filters); err != nil {
		return model.Profile{}, fmt.Errorf("storage: decode filters for %s: %w", p.Name, err)
	}
	return p, nil
}

func marshalFilters(filters []string) (string, error) {
	if filters == nil {
		filters = []string{}
	}
	b, err := json.Marshal(filters)
	if err != nil {
		return "", fmt.Errorf("storage: encode filters: %w", err)
	}
	return string(b), nil
}
