package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/retainer/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// In-memory databases are per connection.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.db, project)
}

func (s *SQLiteStore) Projects(ctx context.Context) ([]domain.Project, error) {
	return listProjects(ctx, s.db)
}

func (s *SQLiteStore) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	return createEnvironment(ctx, s.db, env)
}

func (s *SQLiteStore) Environments(ctx context.Context) ([]domain.Environment, error) {
	return listEnvironments(ctx, s.db)
}

func (s *SQLiteStore) CreateRelease(ctx context.Context, release *domain.Release) error {
	return createRelease(ctx, s.db, release)
}

func (s *SQLiteStore) Releases(ctx context.Context) ([]domain.Release, error) {
	return listReleases(ctx, s.db)
}

func (s *SQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) Deployments(ctx context.Context) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.db)
}

func (s *SQLiteStore) Import(ctx context.Context, snapshot domain.Snapshot) error {
	return s.WithTx(ctx, func(tx Store) error {
		return tx.Import(ctx, snapshot)
	})
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.tx, project)
}

func (s *txSQLiteStore) Projects(ctx context.Context) ([]domain.Project, error) {
	return listProjects(ctx, s.tx)
}

func (s *txSQLiteStore) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	return createEnvironment(ctx, s.tx, env)
}

func (s *txSQLiteStore) Environments(ctx context.Context) ([]domain.Environment, error) {
	return listEnvironments(ctx, s.tx)
}

func (s *txSQLiteStore) CreateRelease(ctx context.Context, release *domain.Release) error {
	return createRelease(ctx, s.tx, release)
}

func (s *txSQLiteStore) Releases(ctx context.Context) ([]domain.Release, error) {
	return listReleases(ctx, s.tx)
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) Deployments(ctx context.Context) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.tx)
}

func (s *txSQLiteStore) Import(ctx context.Context, snapshot domain.Snapshot) error {
	return importSnapshot(ctx, s, snapshot)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Row Types
// =============================================================================

type namedRow struct {
	ID   string `db:"id"`
	Name string `db:"name"`
}

type releaseRow struct {
	ID        string `db:"id"`
	ProjectID string `db:"project_id"`
	Version   string `db:"version"`
}

type deploymentRow struct {
	ID            string `db:"id"`
	ReleaseID     string `db:"release_id"`
	EnvironmentID string `db:"environment_id"`
	DeployedAt    string `db:"deployed_at"`
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createProject(ctx context.Context, exec executor, project *domain.Project) error {
	if err := project.Validate(); err != nil {
		return NewStoreError("CreateProject", "project", project.ID, err.Error(), ErrInvalidData)
	}
	return insertNamed(ctx, exec, "CreateProject", "project", "projects", project.ID, project.Name)
}

func createEnvironment(ctx context.Context, exec executor, env *domain.Environment) error {
	if err := env.Validate(); err != nil {
		return NewStoreError("CreateEnvironment", "environment", env.ID, err.Error(), ErrInvalidData)
	}
	return insertNamed(ctx, exec, "CreateEnvironment", "environment", "environments", env.ID, env.Name)
}

// insertNamed inserts an {id, name} row into one of the catalog tables.
// table is always a package constant, never caller input.
func insertNamed(ctx context.Context, exec executor, op, entity, table, id, name string) error {
	query := `INSERT INTO ` + table + ` (id, name) VALUES (:id, :name)`

	_, err := exec.NamedExecContext(ctx, query, namedRow{ID: id, Name: name})
	if err != nil {
		if isUniqueViolation(err) {
			return NewStoreError(op, entity, id, entity+" with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError(op, entity, id, err.Error(), err)
	}
	return nil
}

func listProjects(ctx context.Context, exec executor) ([]domain.Project, error) {
	var rows []namedRow
	if err := exec.SelectContext(ctx, &rows, `SELECT id, name FROM projects ORDER BY seq`); err != nil {
		return nil, NewStoreError("ListProjects", "project", "", err.Error(), err)
	}

	projects := make([]domain.Project, 0, len(rows))
	for _, row := range rows {
		projects = append(projects, domain.Project{ID: row.ID, Name: row.Name})
	}
	return projects, nil
}

func listEnvironments(ctx context.Context, exec executor) ([]domain.Environment, error) {
	var rows []namedRow
	if err := exec.SelectContext(ctx, &rows, `SELECT id, name FROM environments ORDER BY seq`); err != nil {
		return nil, NewStoreError("ListEnvironments", "environment", "", err.Error(), err)
	}

	envs := make([]domain.Environment, 0, len(rows))
	for _, row := range rows {
		envs = append(envs, domain.Environment{ID: row.ID, Name: row.Name})
	}
	return envs, nil
}

func createRelease(ctx context.Context, exec executor, release *domain.Release) error {
	if err := release.Validate(); err != nil {
		return NewStoreError("CreateRelease", "release", release.ID, err.Error(), ErrInvalidData)
	}

	query := `INSERT INTO releases (id, project_id, version) VALUES (:id, :project_id, :version)`

	_, err := exec.NamedExecContext(ctx, query, releaseRow{
		ID:        release.ID,
		ProjectID: release.ProjectID,
		Version:   release.Version,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return NewStoreError("CreateRelease", "release", release.ID, "release with this ID already exists for project "+release.ProjectID, ErrDuplicateID)
		}
		return NewStoreError("CreateRelease", "release", release.ID, err.Error(), err)
	}
	return nil
}

func listReleases(ctx context.Context, exec executor) ([]domain.Release, error) {
	var rows []releaseRow
	if err := exec.SelectContext(ctx, &rows, `SELECT id, project_id, version FROM releases ORDER BY seq`); err != nil {
		return nil, NewStoreError("ListReleases", "release", "", err.Error(), err)
	}

	releases := make([]domain.Release, 0, len(rows))
	for _, row := range rows {
		releases = append(releases, domain.Release{ID: row.ID, ProjectID: row.ProjectID, Version: row.Version})
	}
	return releases, nil
}

func createDeployment(ctx context.Context, exec executor, deployment *domain.Deployment) error {
	if err := deployment.Validate(); err != nil {
		return NewStoreError("CreateDeployment", "deployment", deployment.ID, err.Error(), ErrInvalidData)
	}
	if deployment.ID == "" {
		deployment.ID = "depl_" + uuid.New().String()[:8]
	}

	query := `
		INSERT INTO deployments (id, release_id, environment_id, deployed_at)
		VALUES (:id, :release_id, :environment_id, :deployed_at)`

	_, err := exec.NamedExecContext(ctx, query, deploymentRow{
		ID:            deployment.ID,
		ReleaseID:     deployment.ReleaseID,
		EnvironmentID: deployment.EnvironmentID,
		DeployedAt:    deployment.DeployedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return NewStoreError("CreateDeployment", "deployment", deployment.ID, "deployment with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateDeployment", "deployment", deployment.ID, err.Error(), err)
	}
	return nil
}

func listDeployments(ctx context.Context, exec executor) ([]domain.Deployment, error) {
	query := `SELECT id, release_id, environment_id, deployed_at FROM deployments ORDER BY seq`

	var rows []deploymentRow
	if err := exec.SelectContext(ctx, &rows, query); err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	deployments := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		deployedAt, err := domain.ParseDeployedAt(row.DeployedAt)
		if err != nil {
			return nil, NewStoreError("ListDeployments", "deployment", row.ID, err.Error(), ErrInvalidData)
		}
		deployments = append(deployments, domain.Deployment{
			ID:            row.ID,
			ReleaseID:     row.ReleaseID,
			EnvironmentID: row.EnvironmentID,
			DeployedAt:    deployedAt,
		})
	}
	return deployments, nil
}

// importSnapshot clears every table and inserts the snapshot. It must run
// inside a transaction so a failed import leaves the previous data intact.
func importSnapshot(ctx context.Context, s *txSQLiteStore, snapshot domain.Snapshot) error {
	for _, table := range []string{"deployments", "releases", "environments", "projects"} {
		if _, err := s.tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return NewStoreError("Import", table, "", err.Error(), err)
		}
	}

	for i := range snapshot.Projects {
		if err := s.CreateProject(ctx, &snapshot.Projects[i]); err != nil {
			return err
		}
	}
	for i := range snapshot.Environments {
		if err := s.CreateEnvironment(ctx, &snapshot.Environments[i]); err != nil {
			return err
		}
	}
	for i := range snapshot.Releases {
		if err := s.CreateRelease(ctx, &snapshot.Releases[i]); err != nil {
			return err
		}
	}
	for i := range snapshot.Deployments {
		d := snapshot.Deployments[i]
		if err := s.CreateDeployment(ctx, &d); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
