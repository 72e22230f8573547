package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	ErrSourceNotFound   = errors.New("agent source not found")
	ErrTemplateNotFound = errors.New("agent template not found")
	ErrInvalidTemplate  = errors.New("invalid agent template")
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	db DB
}

func NewService(db DB) *Service {
	return &Service{db: db}
}

func (s *Service) CreateSource(ctx context.Context, p CreateSourceParams) (*Source, error) {
	if strings.TrimSpace(p.Name) == "" || p.Type == "" {
		return nil, fmt.Errorf("%w: source name and type are required", ErrInvalidTemplate)
	}
	config := p.Config
	if config == "" {
		config = "{}"
	}
	if !json.Valid([]byte(config)) {
		return nil, fmt.Errorf("%w: source config is not valid JSON", ErrInvalidTemplate)
	}

	var (
		id  pgtype.UUID
		src = Source{Name: p.Name, Type: p.Type, Config: config}
	)
	err := s.db.QueryRow(ctx,
		`INSERT INTO agent_sources (name, type, config) VALUES ($1, $2, $3::jsonb) RETURNING id`,
		p.Name, string(p.Type), config).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}
	src.ID = uuidToString(id.Bytes)
	return &src, nil
}

func (s *Service) CreateTemplate(ctx context.Context, p CreateTemplateParams) (*Template, error) {
	if strings.TrimSpace(p.Name) == "" || p.OSType == "" {
		return nil, fmt.Errorf("%w: name and os type are required", ErrInvalidTemplate)
	}

	var sourceID pgtype.UUID
	if p.SourceID != "" {
		parsed, err := uuid.Parse(p.SourceID)
		if err != nil {
			return nil, ErrSourceNotFound
		}
		sourceID = pgtype.UUID{Bytes: parsed, Valid: true}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id pgtype.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO agent_templates (name, os_type, source_id) VALUES ($1, $2, $3) RETURNING id`,
		p.Name, string(p.OSType), sourceID).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("create template: %w", err)
	}

	for _, c := range p.Commands {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultCommandTimeout
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO agent_commands (template_id, name, script, timeout, default_args) VALUES ($1, $2, $3, $4, $5)`,
			id, c.Name, c.Script, timeout, c.DefaultArgs)
		if err != nil {
			return nil, fmt.Errorf("create command %q: %w", c.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	templateID := uuidToString(id.Bytes)
	slog.Info("Agent template created", "template_id", templateID, "os_type", p.OSType, "commands", len(p.Commands))
	return s.Get(ctx, templateID)
}

func (s *Service) Get(ctx context.Context, id string) (*Template, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, ErrTemplateNotFound
}

// List returns every template with its source and commands.
func (s *Service) List(ctx context.Context) ([]Template, error) {
	rows, err := s.db.Query(ctx, `SELECT t.id, t.name, t.os_type, t.created_at,
			s.id, s.name, s.type, s.config::text
		FROM agent_templates t
		LEFT JOIN agent_sources s ON s.id = t.source_id
		ORDER BY t.created_at`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var (
		result []Template
		index  = make(map[string]int)
	)
	for rows.Next() {
		var (
			id, srcID                pgtype.UUID
			name, osType             string
			createdAt                pgtype.Timestamptz
			srcName, srcType, srcCfg pgtype.Text
		)
		if err := rows.Scan(&id, &name, &osType, &createdAt, &srcID, &srcName, &srcType, &srcCfg); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}

		t := Template{
			ID:        uuidToString(id.Bytes),
			Name:      name,
			OSType:    OSType(osType),
			CreatedAt: createdAt.Time,
		}
		if srcID.Valid {
			t.Source = &Source{
				ID:     uuidToString(srcID.Bytes),
				Name:   srcName.String,
				Type:   SourceType(srcType.String),
				Config: srcCfg.String,
			}
		}
		index[t.ID] = len(result)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	commands, err := s.listCommands(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range commands {
		if i, ok := index[c.TemplateID]; ok {
			result[i].Commands = append(result[i].Commands, c)
		}
	}
	return result, nil
}

func (s *Service) listCommands(ctx context.Context) ([]Command, error) {
	rows, err := s.db.Query(ctx, `SELECT id, template_id, name, script, timeout, default_args
		FROM agent_commands ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var result []Command
	for rows.Next() {
		var (
			id, templateID pgtype.UUID
			c              Command
		)
		if err := rows.Scan(&id, &templateID, &c.Name, &c.Script, &c.Timeout, &c.DefaultArgs); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		c.ID = uuidToString(id.Bytes)
		c.TemplateID = uuidToString(templateID.Bytes)
		result = append(result, c)
	}
	return result, rows.Err()
}

func uuidToString(id [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		id[0:4], id[4:6], id[6:8], id[8:10], id[10:16])
}
