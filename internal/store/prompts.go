package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/autoguard/backend/internal/core"
)

// CreatePrompt registers a prompt template name. Names are unique.
func (s *Store) CreatePrompt(ctx context.Context, name, description string) (*core.Prompt, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, core.Validationf("prompt name is required")
	}
	var p core.Prompt
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO prompts (name, description)
		VALUES ($1, $2)
		RETURNING id, name, description, created_at`,
		name, nullString(description)).Scan(&p.ID, &p.Name, &desc, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("create prompt %s", name))
	}
	p.Description = fromNullString(desc)
	return &p, nil
}

// GetPromptByName fetches one prompt by its unique name.
func (s *Store) GetPromptByName(ctx context.Context, name string) (*core.Prompt, error) {
	var p core.Prompt
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM prompts WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &desc, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("prompt %s", name))
	}
	p.Description = fromNullString(desc)
	return &p, nil
}

// GetPrompt fetches one prompt by id.
func (s *Store) GetPrompt(ctx context.Context, id int64) (*core.Prompt, error) {
	var p core.Prompt
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM prompts WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &desc, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("prompt %d", id))
	}
	p.Description = fromNullString(desc)
	return &p, nil
}

// ListPrompts returns every prompt.
func (s *Store) ListPrompts(ctx context.Context) ([]*core.Prompt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM prompts ORDER BY name`)
	if err != nil {
		return nil, mapError(err, "list prompts")
	}
	defer rows.Close()

	var out []*core.Prompt
	for rows.Next() {
		var p core.Prompt
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.CreatedAt); err != nil {
			return nil, mapError(err, "scan prompt")
		}
		p.Description = fromNullString(desc)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// CreatePromptVersion appends the next version of a prompt. The very first
// version of a prompt activates itself; later ones stay inactive until an
// explicit activation.
func (s *Store) CreatePromptVersion(ctx context.Context, promptID int64, content string) (*core.PromptVersion, error) {
	if strings.TrimSpace(content) == "" {
		return nil, core.Validationf("prompt content is required")
	}
	var v core.PromptVersion
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO prompt_versions (prompt_id, version, content, is_active)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, COUNT(*) = 0
		FROM prompt_versions WHERE prompt_id = $1
		RETURNING id, prompt_id, version, content, is_active, created_at`,
		promptID, content).
		Scan(&v.ID, &v.PromptID, &v.Version, &v.Content, &v.IsActive, &v.CreatedAt)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("create version for prompt %d", promptID))
	}
	return &v, nil
}

// ListPromptVersions returns a prompt's versions, newest first.
func (s *Store) ListPromptVersions(ctx context.Context, promptID int64) ([]*core.PromptVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt_id, version, content, is_active, created_at
		FROM prompt_versions WHERE prompt_id = $1 ORDER BY version DESC`, promptID)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("list versions for prompt %d", promptID))
	}
	defer rows.Close()

	var out []*core.PromptVersion
	for rows.Next() {
		var v core.PromptVersion
		if err := rows.Scan(&v.ID, &v.PromptID, &v.Version, &v.Content, &v.IsActive, &v.CreatedAt); err != nil {
			return nil, mapError(err, "scan prompt version")
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// ActivateVersionExclusive makes one version active and all its siblings
// inactive in a single transaction. Readers either see the old active
// version or the new one, never zero or two.
func (s *Store) ActivateVersionExclusive(ctx context.Context, promptID, versionID int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE prompt_versions SET is_active = false WHERE prompt_id = $1 AND is_active`,
			promptID); err != nil {
			return mapError(err, fmt.Sprintf("deactivate versions of prompt %d", promptID))
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE prompt_versions SET is_active = true WHERE id = $1 AND prompt_id = $2`,
			versionID, promptID)
		if err != nil {
			return mapError(err, fmt.Sprintf("activate version %d", versionID))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.NotFoundf("version %d of prompt %d", versionID, promptID)
		}
		return nil
	})
}

// GetActivePromptContent returns the active version's content for a prompt
// name. Missing prompt or missing active version both read as NotFound.
func (s *Store) GetActivePromptContent(ctx context.Context, name string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `
		SELECT v.content
		FROM prompt_versions v
		JOIN prompts p ON p.id = v.prompt_id
		WHERE p.name = $1 AND v.is_active`, name).Scan(&content)
	if err != nil {
		return "", mapError(err, fmt.Sprintf("active version of prompt %s", name))
	}
	return content, nil
}
