package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/torcida/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `id, full_name, email, role, membership_tier, youtube_connected, created_at`

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p := &model.Profile{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.FullName, &p.Email, &p.Role, &p.MembershipTier, &p.YouTubeConnected, &p.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}

	return p, nil
}

// Create はプロフィールを作成する。既に存在する場合はErrProfileExistsを返す。
func (r *PostgresProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.FullName, p.Email, string(p.Role), string(p.MembershipTier), p.YouTubeConnected, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to insert profile %s: %w", p.ID, ErrProfileExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// Update はnilでないフィールドのみを更新する。更新対象がなければ何もしない。
func (r *PostgresProfileRepo) Update(ctx context.Context, id string, u model.ProfileUpdate) error {
	if u.IsEmpty() {
		return nil
	}

	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.FullName != nil {
		add("full_name", *u.FullName)
	}
	if u.Role != nil {
		add("role", string(*u.Role))
	}
	if u.MembershipTier != nil {
		add("membership_tier", string(*u.MembershipTier))
	}
	if u.YouTubeConnected != nil {
		add("youtube_connected", *u.YouTubeConnected)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE profiles SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("failed to update profile %s: %w", id, ErrProfileNotFound)
	}
	return nil
}

// ListByTier は会員ランクで絞り込んだプロフィール一覧を返す。tierが空の場合は全件。
func (r *PostgresProfileRepo) ListByTier(ctx context.Context, tier model.MembershipTier) ([]*model.Profile, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if tier == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+profileColumns+` FROM profiles ORDER BY created_at ASC`,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+profileColumns+` FROM profiles WHERE membership_tier = $1 ORDER BY created_at ASC`,
			string(tier),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*model.Profile
	for rows.Next() {
		p := &model.Profile{}
		if err := rows.Scan(&p.ID, &p.FullName, &p.Email, &p.Role, &p.MembershipTier, &p.YouTubeConnected, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}

	return profiles, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
