package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goatkit/tickettransfer/internal/database"
	"github.com/goatkit/tickettransfer/internal/models"
)

const transferConfigColumns = `
	c.id, c.name, c.odoo_url, c.db_name, c.login, c.api_key, c.active,
	c.company_id, c.child_partner_id, c.parent_partner_id, COALESCE(c.notes, ''),
	c.last_test_date, COALESCE(c.last_test_result, ''), c.create_date, c.write_date,
	cp.name, cp.email, cp.phone, pp.name, pp.email, pp.phone`

const transferConfigFrom = `
	FROM transfer_config c
	LEFT JOIN partner cp ON cp.id = c.child_partner_id
	LEFT JOIN partner pp ON pp.id = c.parent_partner_id`

// TransferConfigRepository handles persistence of destination configs and
// their stage mappings.
type TransferConfigRepository struct {
	db database.TxBeginner
}

// NewTransferConfigRepository creates a new transfer config repository.
func NewTransferConfigRepository(db database.TxBeginner) *TransferConfigRepository {
	return &TransferConfigRepository{db: db}
}

// GetByID retrieves a config with its stage mappings and substitution partners.
func (r *TransferConfigRepository) GetByID(ctx context.Context, id int) (*models.TransferConfig, error) {
	query := database.ConvertPlaceholders(`SELECT` + transferConfigColumns + transferConfigFrom + `
		WHERE c.id = ?`)

	cfg, err := scanTransferConfig(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	mappings, err := r.listStageMappings(ctx, r.db, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage mappings: %w", err)
	}
	cfg.StageMappings = mappings
	return cfg, nil
}

// List retrieves configs ordered by name. Stage mappings are not loaded.
func (r *TransferConfigRepository) List(ctx context.Context, activeOnly bool) ([]*models.TransferConfig, error) {
	query := `SELECT` + transferConfigColumns + transferConfigFrom
	args := []any{}
	if activeOnly {
		query += ` WHERE c.active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY c.name, c.id`

	rows, err := r.db.QueryContext(ctx, database.ConvertPlaceholders(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*models.TransferConfig
	for rows.Next() {
		cfg, err := scanTransferConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// Create inserts a config and its stage mappings in one transaction.
func (r *TransferConfigRepository) Create(ctx context.Context, cfg *models.TransferConfig) (int, error) {
	now := time.Now().UTC()

	var id int64
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		id, err = database.InsertReturningID(ctx, tx, `
			INSERT INTO transfer_config (name, odoo_url, db_name, login, api_key, active,
				company_id, child_partner_id, parent_partner_id, notes, create_date, write_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cfg.Name, cfg.URL, cfg.Database, cfg.Login, cfg.Secret, cfg.Active,
			cfg.CompanyID, cfg.ChildPartnerID, cfg.ParentPartnerID, cfg.Notes, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert config: %w", err)
		}
		return r.insertStageMappings(ctx, tx, int(id), cfg.StageMappings)
	})
	if err != nil {
		return 0, err
	}

	cfg.ID = int(id)
	cfg.CreateDate, cfg.WriteDate = now, now
	return cfg.ID, nil
}

// Update rewrites a config and replaces its stage mappings.
func (r *TransferConfigRepository) Update(ctx context.Context, cfg *models.TransferConfig) error {
	now := time.Now().UTC()

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query := database.ConvertPlaceholders(database.BuildUpdateQuery("transfer_config", []string{
			"name", "odoo_url", "db_name", "login", "api_key", "active",
			"company_id", "child_partner_id", "parent_partner_id", "notes", "write_date",
		}, "id = ?"))

		result, err := tx.ExecContext(ctx, query,
			cfg.Name, cfg.URL, cfg.Database, cfg.Login, cfg.Secret, cfg.Active,
			cfg.CompanyID, cfg.ChildPartnerID, cfg.ParentPartnerID, cfg.Notes, now, cfg.ID,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return sql.ErrNoRows
		}

		del := database.ConvertPlaceholders(`DELETE FROM transfer_stage_mapping WHERE config_id = ?`)
		if _, err := tx.ExecContext(ctx, del, cfg.ID); err != nil {
			return fmt.Errorf("failed to clear stage mappings: %w", err)
		}
		if err := r.insertStageMappings(ctx, tx, cfg.ID, cfg.StageMappings); err != nil {
			return err
		}
		cfg.WriteDate = now
		return nil
	})
}

// Delete removes a config together with its stage mappings.
func (r *TransferConfigRepository) Delete(ctx context.Context, id int) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		// Not every dialect enforces ON DELETE CASCADE.
		del := database.ConvertPlaceholders(`DELETE FROM transfer_stage_mapping WHERE config_id = ?`)
		if _, err := tx.ExecContext(ctx, del, id); err != nil {
			return fmt.Errorf("failed to delete stage mappings: %w", err)
		}

		result, err := tx.ExecContext(ctx, database.ConvertPlaceholders(`DELETE FROM transfer_config WHERE id = ?`), id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// ExistsByName checks if another config already uses name.
func (r *TransferConfigRepository) ExistsByName(ctx context.Context, name string, excludeID int) (bool, error) {
	query := database.ConvertPlaceholders(`
		SELECT COUNT(*) FROM transfer_config WHERE name = ? AND id != ?
	`)
	var n int
	if err := r.db.QueryRowContext(ctx, query, name, excludeID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordConnectionTest stores the outcome of the latest connection test.
func (r *TransferConfigRepository) RecordConnectionTest(ctx context.Context, id int, at time.Time, result string) error {
	query := database.ConvertPlaceholders(`
		UPDATE transfer_config SET last_test_date = ?, last_test_result = ? WHERE id = ?
	`)
	res, err := r.db.ExecContext(ctx, query, at, result, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *TransferConfigRepository) listStageMappings(ctx context.Context, db database.DBTX, configID int) ([]models.StageMapping, error) {
	query := database.ConvertPlaceholders(`
		SELECT m.id, m.config_id, m.sequence, m.source_stage_id, COALESCE(s.name, ''),
			m.destination_stage_name, COALESCE(m.notes, '')
		FROM transfer_stage_mapping m
		LEFT JOIN helpdesk_stage s ON s.id = m.source_stage_id
		WHERE m.config_id = ?
		ORDER BY m.sequence, m.id
	`)

	rows, err := db.QueryContext(ctx, query, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []models.StageMapping
	for rows.Next() {
		var m models.StageMapping
		if err := rows.Scan(&m.ID, &m.ConfigID, &m.Sequence, &m.SourceStageID, &m.SourceStageName,
			&m.DestinationStageName, &m.Notes); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (r *TransferConfigRepository) insertStageMappings(ctx context.Context, tx *sql.Tx, configID int, mappings []models.StageMapping) error {
	query := database.ConvertPlaceholders(`
		INSERT INTO transfer_stage_mapping (config_id, sequence, source_stage_id, destination_stage_name, notes)
		VALUES (?, ?, ?, ?, ?)
	`)
	for i := range mappings {
		m := &mappings[i]
		seq := m.Sequence
		if seq == 0 {
			seq = 10
		}
		if _, err := tx.ExecContext(ctx, query, configID, seq, m.SourceStageID, m.DestinationStageName, m.Notes); err != nil {
			return fmt.Errorf("failed to insert stage mapping for stage %d: %w", m.SourceStageID, err)
		}
		m.ConfigID = configID
		m.Sequence = seq
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransferConfig(row rowScanner) (*models.TransferConfig, error) {
	cfg := &models.TransferConfig{}
	var (
		childName, childEmail, childPhone    sql.NullString
		parentName, parentEmail, parentPhone sql.NullString
	)
	err := row.Scan(
		&cfg.ID, &cfg.Name, &cfg.URL, &cfg.Database, &cfg.Login, &cfg.Secret, &cfg.Active,
		&cfg.CompanyID, &cfg.ChildPartnerID, &cfg.ParentPartnerID, &cfg.Notes,
		&cfg.LastTestDate, &cfg.LastTestResult, &cfg.CreateDate, &cfg.WriteDate,
		&childName, &childEmail, &childPhone, &parentName, &parentEmail, &parentPhone,
	)
	if err != nil {
		return nil, err
	}

	if cfg.ChildPartnerID != nil && childName.Valid {
		cfg.ChildPartner = &models.PartnerDescriptor{
			ID: *cfg.ChildPartnerID, Name: childName.String, Email: childEmail.String, Phone: childPhone.String,
		}
	}
	if cfg.ParentPartnerID != nil && parentName.Valid {
		cfg.ParentPartner = &models.PartnerDescriptor{
			ID: *cfg.ParentPartnerID, Name: parentName.String, Email: parentEmail.String, Phone: parentPhone.String,
		}
	}
	return cfg, nil
}
