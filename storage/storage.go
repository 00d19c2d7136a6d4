// Package storage persists ads, alerts, follows and change history in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bazaraki-watcher/pkg/listing"
	"bazaraki-watcher/storage/migrations"
)

// Store wraps the SQLite connection. Reads can run concurrently with the
// single active writer; every write path takes mu to serialize mutations.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies pending
// schema migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("Database ready", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetAd retrieves an ad by id. Returns (nil, nil) when the ad is unknown.
func (s *Store) GetAd(ctx context.Context, adID string) (*listing.Ad, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ad_id, ad_url, first_seen, post_date, initial_price, current_price,
		       car_brand, car_model, car_year, car_color, gearbox, body_type,
		       fuel_type, engine_size, drive_type, mileage, user_name, user_id,
		       is_business, ad_status, last_checked
		FROM ads WHERE ad_id = ?`, adID)

	ad, err := scanAd(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ad %s: %w", adID, err)
	}
	return ad, nil
}

// InsertAd stores a newly discovered ad. Idempotent: inserting an id that
// already exists is a no-op.
func (s *Store) InsertAd(ctx context.Context, ad *listing.Ad) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ads (
			ad_id, ad_url, first_seen, post_date, initial_price, current_price,
			car_brand, car_model, car_year, car_color, gearbox, body_type,
			fuel_type, engine_size, drive_type, mileage, user_name, user_id,
			is_business, ad_status, last_checked
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ad.ID, ad.URL, ad.FirstSeen, nullTime(ad.PostDate), ad.InitialPrice, ad.CurrentPrice,
		nullString(ad.Brand), nullString(ad.Model), ad.Year, nullString(ad.Color),
		nullString(ad.Gearbox), nullString(ad.BodyType), nullString(ad.FuelType),
		ad.EngineSize, nullString(ad.DriveType), ad.Mileage,
		nullString(ad.SellerName), nullString(ad.SellerID), nullBool(ad.IsBusiness),
		string(ad.Status), ad.FirstSeen)
	if err != nil {
		return fmt.Errorf("insert ad %s: %w", ad.ID, err)
	}
	return nil
}

// UpdatePrice sets the current price and bumps last_checked.
func (s *Store) UpdatePrice(ctx context.Context, adID string, price int) error {
	return s.exec(ctx, "update price",
		`UPDATE ads SET current_price = ?, last_checked = ? WHERE ad_id = ?`,
		price, time.Now(), adID)
}

// UpdateStatus sets the promotion tier (or Disabled) and bumps last_checked.
func (s *Store) UpdateStatus(ctx context.Context, adID string, status listing.Status) error {
	return s.exec(ctx, "update status",
		`UPDATE ads SET ad_status = ?, last_checked = ? WHERE ad_id = ?`,
		string(status), time.Now(), adID)
}

// UpdatePostDate sets the observed post/bump date and bumps last_checked.
func (s *Store) UpdatePostDate(ctx context.Context, adID string, postDate time.Time) error {
	return s.exec(ctx, "update post date",
		`UPDATE ads SET post_date = ?, last_checked = ? WHERE ad_id = ?`,
		postDate, time.Now(), adID)
}

// Touch bumps last_checked without changing anything else.
func (s *Store) Touch(ctx context.Context, adID string) error {
	return s.exec(ctx, "touch ad",
		`UPDATE ads SET last_checked = ? WHERE ad_id = ?`, time.Now(), adID)
}

// UpdateColor fills the color field, used by the color-rescan maintenance pass.
func (s *Store) UpdateColor(ctx context.Context, adID, color string) error {
	return s.exec(ctx, "update color",
		`UPDATE ads SET car_color = ? WHERE ad_id = ?`, color, adID)
}

// Stats returns the total ad count and how many were first seen in the last
// 24 hours.
func (s *Store) Stats(ctx context.Context) (total, newToday int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ads`).Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("count ads: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ads WHERE first_seen > datetime('now', '-1 day')`).Scan(&newToday)
	if err != nil {
		return 0, 0, fmt.Errorf("count new ads: %w", err)
	}
	return total, newToday, nil
}

// FollowedAdIDs returns the distinct set of ad ids followed by at least one
// user. Each ad is health-checked once per sweep regardless of follower count.
func (s *Store) FollowedAdIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ad_id FROM followed_ads`)
	if err != nil {
		return nil, fmt.Errorf("list followed ads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan followed ad id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FollowAd toggles the follow relation for (userID, adID). Returns true when
// the user is now following the ad, false when the call unfollowed it.
func (s *Store) FollowAd(ctx context.Context, userID int64, adID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM followed_ads WHERE user_id = ? AND ad_id = ?`, userID, adID).Scan(&exists)
	switch {
	case err == nil:
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM followed_ads WHERE user_id = ? AND ad_id = ?`, userID, adID); err != nil {
			return false, fmt.Errorf("unfollow ad %s: %w", adID, err)
		}
		return false, nil
	case errors.Is(err, sql.ErrNoRows):
		if err := s.ensureUser(ctx, userID, ""); err != nil {
			return false, err
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO followed_ads (user_id, ad_id, created_at) VALUES (?, ?, ?)`,
			userID, adID, time.Now()); err != nil {
			return false, fmt.Errorf("follow ad %s: %w", adID, err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("check follow %s: %w", adID, err)
	}
}

// EnsureUser registers a user row, a no-op when the id already exists. Write
// paths that reference users call this themselves; it is exported for the bot
// layer's registration flow.
func (s *Store) EnsureUser(ctx context.Context, userID int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureUser(ctx, userID, username)
}

// ensureUser is the lock-free variant for callers already holding mu.
func (s *Store) ensureUser(ctx context.Context, userID int64, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (user_id, username, joined_date) VALUES (?, ?, ?)`,
		userID, nullString(username), time.Now())
	if err != nil {
		return fmt.Errorf("ensure user %d: %w", userID, err)
	}
	return nil
}

// FailedChecks returns the highest consecutive-failure count recorded for an
// ad across all of its follower entries.
func (s *Store) FailedChecks(ctx context.Context, adID string) (int, error) {
	var count sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(failed_checks_count) FROM followed_ads WHERE ad_id = ?`, adID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("get failed checks %s: %w", adID, err)
	}
	return int(count.Int64), nil
}

// IncrementFailedChecks bumps the consecutive-failure counter for an ad.
func (s *Store) IncrementFailedChecks(ctx context.Context, adID string) error {
	return s.exec(ctx, "increment failed checks",
		`UPDATE followed_ads SET failed_checks_count = failed_checks_count + 1 WHERE ad_id = ?`, adID)
}

// ResetFailedChecks clears the consecutive-failure counter for an ad.
func (s *Store) ResetFailedChecks(ctx context.Context, adID string) error {
	return s.exec(ctx, "reset failed checks",
		`UPDATE followed_ads SET failed_checks_count = 0 WHERE ad_id = ?`, adID)
}

// AppendHistory writes one immutable change-log row.
func (s *Store) AppendHistory(ctx context.Context, entry listing.HistoryEntry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	return s.exec(ctx, "append history",
		`INSERT INTO ad_history (ad_id, change_type, old_value, new_value, timestamp) VALUES (?, ?, ?, ?, ?)`,
		entry.AdID, entry.Kind, entry.Old, entry.New, at)
}

// AdHistory retrieves the most recent history rows for an ad.
func (s *Store) AdHistory(ctx context.Context, adID string, limit int) ([]listing.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ad_id, change_type, old_value, new_value, timestamp
		 FROM ad_history WHERE ad_id = ? ORDER BY timestamp DESC LIMIT ?`, adID, limit)
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", adID, err)
	}
	defer rows.Close()

	var entries []listing.HistoryEntry
	for rows.Next() {
		var e listing.HistoryEntry
		if err := rows.Scan(&e.AdID, &e.Kind, &e.Old, &e.New, &e.At); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateAlert stores a saved search for a user and returns its id.
func (s *Store) CreateAlert(ctx context.Context, userID int64, name string, filters json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureUser(ctx, userID, ""); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (user_id, name, created_at, is_active, filters) VALUES (?, ?, ?, 1, ?)`,
		userID, name, time.Now(), string(filters))
	if err != nil {
		return 0, fmt.Errorf("create alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create alert id: %w", err)
	}
	return id, nil
}

// ActiveAlerts returns every alert whose active flag is set, for the
// notification fan-out.
func (s *Store) ActiveAlerts(ctx context.Context) ([]listing.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alert_id, user_id, name, created_at, is_active, filters FROM alerts WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []listing.Alert
	for rows.Next() {
		var a listing.Alert
		var filters sql.NullString
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.CreatedAt, &a.Active, &filters); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		if filters.Valid {
			a.Filters = json.RawMessage(filters.String)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAd(row rowScanner) (*listing.Ad, error) {
	var (
		ad         listing.Ad
		postDate   sql.NullTime
		brand      sql.NullString
		model      sql.NullString
		year       sql.NullInt64
		color      sql.NullString
		gearbox    sql.NullString
		bodyType   sql.NullString
		fuelType   sql.NullString
		engineSize sql.NullInt64
		driveType  sql.NullString
		mileage    sql.NullInt64
		sellerName sql.NullString
		sellerID   sql.NullString
		isBusiness sql.NullBool
		status     sql.NullString
	)

	err := row.Scan(&ad.ID, &ad.URL, &ad.FirstSeen, &postDate, &ad.InitialPrice, &ad.CurrentPrice,
		&brand, &model, &year, &color, &gearbox, &bodyType, &fuelType, &engineSize,
		&driveType, &mileage, &sellerName, &sellerID, &isBusiness, &status, &ad.LastChecked)
	if err != nil {
		return nil, err
	}

	if postDate.Valid {
		t := postDate.Time
		ad.PostDate = &t
	}
	ad.Brand = brand.String
	ad.Model = model.String
	ad.Year = int(year.Int64)
	ad.Color = color.String
	ad.Gearbox = gearbox.String
	ad.BodyType = bodyType.String
	ad.FuelType = fuelType.String
	ad.EngineSize = int(engineSize.Int64)
	ad.DriveType = driveType.String
	ad.Mileage = int(mileage.Int64)
	ad.SellerName = sellerName.String
	ad.SellerID = sellerID.String
	if isBusiness.Valid {
		b := isBusiness.Bool
		ad.IsBusiness = &b
	}
	ad.Status = listing.Status(status.String)
	return &ad, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
