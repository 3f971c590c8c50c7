package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/polyhost/polyhost-server/internal/domain"
)

const instanceColumns = `id, owner, language, version, port, status, limits, env,
	backend, workspace_path, log_path, handle, last_error, created_at, updated_at`

// InstanceRepo implements [domain.InstanceRepository] backed by SQLite.
type InstanceRepo struct {
	DB *sql.DB
}

func (r *InstanceRepo) Create(ctx context.Context, inst domain.ApplicationInstance) error {
	limits, env, handle, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO instances (`+instanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(inst.ID), string(inst.Owner), inst.Language, inst.Version, inst.Port,
		string(inst.Status), limits, env, string(inst.Backend), inst.WorkspacePath,
		inst.LogPath, handle, inst.LastError,
		inst.CreatedAt.UTC().Format(time.RFC3339Nano), inst.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("instance %q: %w", inst.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

func (r *InstanceRepo) Put(ctx context.Context, inst domain.ApplicationInstance) error {
	limits, env, handle, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO instances (`+instanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   owner = excluded.owner, language = excluded.language, version = excluded.version,
		   port = excluded.port, status = excluded.status, limits = excluded.limits,
		   env = excluded.env, backend = excluded.backend,
		   workspace_path = excluded.workspace_path, log_path = excluded.log_path,
		   handle = excluded.handle, last_error = excluded.last_error,
		   updated_at = excluded.updated_at`,
		string(inst.ID), string(inst.Owner), inst.Language, inst.Version, inst.Port,
		string(inst.Status), limits, env, string(inst.Backend), inst.WorkspacePath,
		inst.LogPath, handle, inst.LastError,
		inst.CreatedAt.UTC().Format(time.RFC3339Nano), inst.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert instance: %w", err)
	}
	return nil
}

func (r *InstanceRepo) Get(ctx context.Context, id domain.InstanceID) (domain.ApplicationInstance, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ?`, string(id),
	)
	return scanInstance(row)
}

func (r *InstanceRepo) List(ctx context.Context) ([]domain.ApplicationInstance, error) {
	return r.query(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY created_at, id`)
}

func (r *InstanceRepo) ListByOwner(ctx context.Context, owner domain.DomainID) ([]domain.ApplicationInstance, error) {
	return r.query(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE owner = ? ORDER BY created_at, id`,
		string(owner),
	)
}

func (r *InstanceRepo) Delete(ctx context.Context, id domain.InstanceID) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("instance %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *InstanceRepo) query(ctx context.Context, q string, args ...any) ([]domain.ApplicationInstance, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.ApplicationInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(s scanner) (domain.ApplicationInstance, error) {
	var inst domain.ApplicationInstance
	var id, owner, status, backend string
	var limitsJSON, envJSON string
	var handleJSON sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&id, &owner, &inst.Language, &inst.Version, &inst.Port, &status,
		&limitsJSON, &envJSON, &backend, &inst.WorkspacePath, &inst.LogPath,
		&handleJSON, &inst.LastError, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inst, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return inst, fmt.Errorf("scan instance: %w", err)
	}

	inst.ID = domain.InstanceID(id)
	inst.Owner = domain.DomainID(owner)
	inst.Status = domain.InstanceStatus(status)
	inst.Backend = domain.BackendKind(backend)

	if err := json.Unmarshal([]byte(limitsJSON), &inst.Limits); err != nil {
		return inst, fmt.Errorf("unmarshal limits: %w", err)
	}
	if err := json.Unmarshal([]byte(envJSON), &inst.Env); err != nil {
		return inst, fmt.Errorf("unmarshal env: %w", err)
	}
	if handleJSON.Valid {
		if err := json.Unmarshal([]byte(handleJSON.String), &inst.Handle); err != nil {
			return inst, fmt.Errorf("unmarshal handle: %w", err)
		}
	}
	if inst.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return inst, fmt.Errorf("parse created_at: %w", err)
	}
	if inst.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return inst, fmt.Errorf("parse updated_at: %w", err)
	}
	return inst, nil
}

func encodeInstance(inst domain.ApplicationInstance) (limits, env string, handle sql.NullString, err error) {
	l, err := json.Marshal(inst.Limits)
	if err != nil {
		return "", "", sql.NullString{}, fmt.Errorf("marshal limits: %w", err)
	}
	if inst.Env == nil {
		inst.Env = map[string]string{}
	}
	e, err := json.Marshal(inst.Env)
	if err != nil {
		return "", "", sql.NullString{}, fmt.Errorf("marshal env: %w", err)
	}
	if !inst.Handle.Empty() {
		h, err := json.Marshal(inst.Handle)
		if err != nil {
			return "", "", sql.NullString{}, fmt.Errorf("marshal handle: %w", err)
		}
		handle = sql.NullString{String: string(h), Valid: true}
	}
	return string(l), string(e), handle, nil
}
