// Package postgres persists entity snapshots as JSONB documents. Each write
// replaces the whole snapshot, matching the single-writer model the services
// enforce, so no partial-update SQL exists here.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/coopledger/funding_layer/internal/app/domain/organization"
	"github.com/coopledger/funding_layer/internal/app/domain/project"
	"github.com/coopledger/funding_layer/internal/app/domain/selloffer"
	"github.com/coopledger/funding_layer/internal/app/domain/token"
	"github.com/coopledger/funding_layer/internal/app/domain/wallet"
	"github.com/coopledger/funding_layer/internal/app/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Open connects to postgres and verifies the connection.
func Open(dsn string, maxOpen, maxIdle int, connLifetime time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connLifetime > 0 {
		db.SetConnMaxLifetime(connLifetime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sqlx.DB) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Store implements every storage interface on one postgres database.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) SaveRegistry(ctx context.Context, reg wallet.Registry) error {
	reg.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registry_snapshots (id, data, updated_at)
		VALUES (TRUE, $1, $2)
		ON CONFLICT (id) DO UPDATE SET data = $1, updated_at = $2`,
		data, reg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

func (s *Store) GetRegistry(ctx context.Context) (wallet.Registry, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT data FROM registry_snapshots WHERE id = TRUE`)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Registry{}, fmt.Errorf("registry: %w", storage.ErrNotFound)
	}
	if err != nil {
		return wallet.Registry{}, fmt.Errorf("get registry: %w", err)
	}
	var reg wallet.Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return wallet.Registry{}, fmt.Errorf("decode registry: %w", err)
	}
	return reg, nil
}

func (s *Store) SaveLedger(ctx context.Context, led token.Ledger) error {
	led.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(led)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_snapshots (id, data, updated_at)
		VALUES (TRUE, $1, $2)
		ON CONFLICT (id) DO UPDATE SET data = $1, updated_at = $2`,
		data, led.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func (s *Store) GetLedger(ctx context.Context) (token.Ledger, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT data FROM ledger_snapshots WHERE id = TRUE`)
	if errors.Is(err, sql.ErrNoRows) {
		return token.Ledger{}, fmt.Errorf("ledger: %w", storage.ErrNotFound)
	}
	if err != nil {
		return token.Ledger{}, fmt.Errorf("get ledger: %w", err)
	}
	var led token.Ledger
	if err := json.Unmarshal(data, &led); err != nil {
		return token.Ledger{}, fmt.Errorf("decode ledger: %w", err)
	}
	return led, nil
}

func (s *Store) CreateOrganization(ctx context.Context, org organization.Organization) error {
	data, err := json.Marshal(org)
	if err != nil {
		return fmt.Errorf("encode organization: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO organizations (address, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4)`,
		org.Address, data, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create organization %s: %w", org.Address, err)
	}
	return nil
}

func (s *Store) UpdateOrganization(ctx context.Context, org organization.Organization) error {
	org.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(org)
	if err != nil {
		return fmt.Errorf("encode organization: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE organizations SET data = $2, updated_at = $3 WHERE address = $1`,
		org.Address, data, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update organization %s: %w", org.Address, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("organization %s: %w", org.Address, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, address string) (organization.Organization, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT data FROM organizations WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return organization.Organization{}, fmt.Errorf("organization %s: %w", address, storage.ErrNotFound)
	}
	if err != nil {
		return organization.Organization{}, fmt.Errorf("get organization %s: %w", address, err)
	}
	var org organization.Organization
	if err := json.Unmarshal(data, &org); err != nil {
		return organization.Organization{}, fmt.Errorf("decode organization %s: %w", address, err)
	}
	return org, nil
}

func (s *Store) ListOrganizations(ctx context.Context) ([]organization.Organization, error) {
	var rows [][]byte
	err := s.db.SelectContext(ctx, &rows, `SELECT data FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	orgs := make([]organization.Organization, 0, len(rows))
	for _, data := range rows {
		var org organization.Organization
		if err := json.Unmarshal(data, &org); err != nil {
			return nil, fmt.Errorf("decode organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, nil
}

func (s *Store) CreateProject(ctx context.Context, proj project.Project) error {
	data, err := json.Marshal(proj)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (address, org_address, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		proj.Address, proj.OrgAddress, data, proj.CreatedAt, proj.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create project %s: %w", proj.Address, err)
	}
	return nil
}

func (s *Store) UpdateProject(ctx context.Context, proj project.Project) error {
	proj.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(proj)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET data = $2, updated_at = $3 WHERE address = $1`,
		proj.Address, data, proj.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update project %s: %w", proj.Address, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("project %s: %w", proj.Address, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, address string) (project.Project, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT data FROM projects WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return project.Project{}, fmt.Errorf("project %s: %w", address, storage.ErrNotFound)
	}
	if err != nil {
		return project.Project{}, fmt.Errorf("get project %s: %w", address, err)
	}
	var proj project.Project
	if err := json.Unmarshal(data, &proj); err != nil {
		return project.Project{}, fmt.Errorf("decode project %s: %w", address, err)
	}
	return proj, nil
}

func (s *Store) ListProjects(ctx context.Context, orgAddress string) ([]project.Project, error) {
	query := `SELECT data FROM projects ORDER BY created_at`
	args := []any{}
	if orgAddress != "" {
		query = `SELECT data FROM projects WHERE org_address = $1 ORDER BY created_at`
		args = append(args, orgAddress)
	}
	var rows [][]byte
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	projs := make([]project.Project, 0, len(rows))
	for _, data := range rows {
		var proj project.Project
		if err := json.Unmarshal(data, &proj); err != nil {
			return nil, fmt.Errorf("decode project: %w", err)
		}
		projs = append(projs, proj)
	}
	return projs, nil
}

func (s *Store) CreateOffer(ctx context.Context, offer selloffer.Offer) error {
	data, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("encode offer: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sell_offers (address, project_address, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		offer.Address, offer.ProjectAddress, data, offer.CreatedAt, offer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create offer %s: %w", offer.Address, err)
	}
	return nil
}

func (s *Store) UpdateOffer(ctx context.Context, offer selloffer.Offer) error {
	offer.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("encode offer: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sell_offers SET data = $2, updated_at = $3 WHERE address = $1`,
		offer.Address, data, offer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update offer %s: %w", offer.Address, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("offer %s: %w", offer.Address, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) GetOffer(ctx context.Context, address string) (selloffer.Offer, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT data FROM sell_offers WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return selloffer.Offer{}, fmt.Errorf("offer %s: %w", address, storage.ErrNotFound)
	}
	if err != nil {
		return selloffer.Offer{}, fmt.Errorf("get offer %s: %w", address, err)
	}
	var offer selloffer.Offer
	if err := json.Unmarshal(data, &offer); err != nil {
		return selloffer.Offer{}, fmt.Errorf("decode offer %s: %w", address, err)
	}
	return offer, nil
}

func (s *Store) ListOffers(ctx context.Context, projectAddress string) ([]selloffer.Offer, error) {
	query := `SELECT data FROM sell_offers ORDER BY created_at`
	args := []any{}
	if projectAddress != "" {
		query = `SELECT data FROM sell_offers WHERE project_address = $1 ORDER BY created_at`
		args = append(args, projectAddress)
	}
	var rows [][]byte
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	list := make([]selloffer.Offer, 0, len(rows))
	for _, data := range rows {
		var offer selloffer.Offer
		if err := json.Unmarshal(data, &offer); err != nil {
			return nil, fmt.Errorf("decode offer: %w", err)
		}
		list = append(list, offer)
	}
	return list, nil
}
