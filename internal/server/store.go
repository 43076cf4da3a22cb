package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a row of the users table.
type User struct {
	ID           int64
	Name         string
	Surname      string
	Email        string
	Phone        string
	Location     string
	PasswordHash string
}

// NewUser is a registration ready to insert; the password is already hashed.
type NewUser struct {
	Name         string
	Surname      string
	Email        string
	Phone        string
	Location     string
	PasswordHash string
}

// ProfileUpdate overwrites every profile column. PasswordHash is only
// written when non-empty.
type ProfileUpdate struct {
	Name         string
	Surname      string
	Email        string
	Phone        string
	Location     string
	PasswordHash string
}

// NewPublication is a publication row to insert. Nil lookup ids are stored
// as NULL.
type NewPublication struct {
	AuthorID       int64
	Title          string
	Description    string
	Priority       string
	RegionID       *int64
	MunicipalityID *int64
	NeighborhoodID *int64
}

// PublicationSummary is a publication joined with its author and lookup
// display names. Missing lookups are nil.
type PublicationSummary struct {
	ID           int64     `json:"id"`
	AuthorID     int64     `json:"authorId"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Priority     string    `json:"priority"`
	CreatedAt    time.Time `json:"createdAt"`
	Author       string    `json:"author"`
	Region       *string   `json:"region"`
	Municipality *string   `json:"municipality"`
	Neighborhood *string   `json:"neighborhood"`
}

// Store is the credential store used by the HTTP handlers.
type Store interface {
	CreateUser(ctx context.Context, u NewUser) (int64, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
	UpdateUser(ctx context.Context, id int64, u ProfileUpdate) error
	DeleteUser(ctx context.Context, id int64) error
	CreatePublication(ctx context.Context, p NewPublication) (int64, error)
	AddAttachments(ctx context.Context, publicationID int64, paths []string) (int, error)
	ListPublications(ctx context.Context) ([]PublicationSummary, error)
	Ping(ctx context.Context) error
}

const (
	sqlInsertUser = `INSERT INTO users (name, surname, email, phone, location, password_hash)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`

	sqlUserByEmail = `SELECT id, name, surname, email, phone, location, password_hash
FROM users
WHERE email = $1`

	sqlUserByID = `SELECT id, name, surname, email, phone, location, password_hash
FROM users
WHERE id = $1`

	sqlUpdateUser = `UPDATE users SET name = $1, surname = $2, email = $3, phone = $4, location = $5`

	sqlDeleteUser = `DELETE FROM users WHERE id = $1`

	sqlInsertPublication = `INSERT INTO publications (author_id, title, description, priority, region_id, municipality_id, neighborhood_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

	sqlInsertAttachment = `INSERT INTO attachments (publication_id, file_path) VALUES ($1, $2)`

	sqlListPublications = `SELECT p.id, p.author_id, p.title, p.description, p.priority, p.created_at,
       u.name, r.name, m.name, n.name
FROM publications p
JOIN users u ON p.author_id = u.id
LEFT JOIN regions r ON p.region_id = r.id
LEFT JOIN municipalities m ON p.municipality_id = m.id
LEFT JOIN neighborhoods n ON p.neighborhood_id = n.id
ORDER BY p.created_at DESC, p.id DESC`
)

// SQLStore implements Store on a database/sql handle.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore returns a Store backed by db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) CreateUser(ctx context.Context, u NewUser) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, sqlInsertUser,
		u.Name, u.Surname, u.Email, u.Phone, u.Location, u.PasswordHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

func (s *SQLStore) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, sqlUserByEmail, email))
}

func (s *SQLStore) UserByID(ctx context.Context, id int64) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, sqlUserByID, id))
}

func (s *SQLStore) scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Surname, &u.Email, &u.Phone, &u.Location, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// UpdateUser runs a single UPDATE. The password column is only part of the
// statement when a new hash is supplied.
func (s *SQLStore) UpdateUser(ctx context.Context, id int64, u ProfileUpdate) error {
	query := sqlUpdateUser
	args := []any{u.Name, u.Surname, u.Email, u.Phone, u.Location}
	if u.PasswordHash != "" {
		query += `, password_hash = $6 WHERE id = $7`
		args = append(args, u.PasswordHash, id)
	} else {
		query += ` WHERE id = $6`
		args = append(args, id)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteUser(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteUser, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *SQLStore) CreatePublication(ctx context.Context, p NewPublication) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, sqlInsertPublication,
		p.AuthorID, p.Title, p.Description, p.Priority,
		p.RegionID, p.MunicipalityID, p.NeighborhoodID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert publication: %w", err)
	}
	return id, nil
}

// AddAttachments inserts one row per path, each as its own statement. It
// keeps going after a failure and returns how many rows were written along
// with every error joined together.
func (s *SQLStore) AddAttachments(ctx context.Context, publicationID int64, paths []string) (int, error) {
	saved := 0
	var errs []error
	for _, p := range paths {
		if _, err := s.db.ExecContext(ctx, sqlInsertAttachment, publicationID, p); err != nil {
			errs = append(errs, fmt.Errorf("insert attachment %q: %w", p, err))
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}

func (s *SQLStore) ListPublications(ctx context.Context) ([]PublicationSummary, error) {
	rows, err := s.db.QueryContext(ctx, sqlListPublications)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]PublicationSummary, 0)
	for rows.Next() {
		var (
			p                    PublicationSummary
			region, muni, neighb sql.NullString
		)
		if err := rows.Scan(
			&p.ID, &p.AuthorID, &p.Title, &p.Description, &p.Priority, &p.CreatedAt,
			&p.Author, &region, &muni, &neighb,
		); err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		p.Region = nullableString(region)
		p.Municipality = nullableString(muni)
		p.Neighborhood = nullableString(neighb)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publications: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
