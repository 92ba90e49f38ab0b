package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/scriptlabs/internal/model"
)

const labColumns = `id, title, description, user_id, created_at, updated_at`

// sortColumns は許可されたソート指定とSQL断片の対応。
// ユーザー入力をSQLに直接埋め込まないためのホワイトリスト。
var sortColumns = map[string]string{
	model.SortByTitle:       "title",
	model.SortByDescription: "description",
	model.SortByCreatedAt:   "created_at",
	model.SortByUpdatedAt:   "updated_at",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PostgresLabRepo はPostgreSQLを使用したラボリポジトリ。
type PostgresLabRepo struct {
	db *sql.DB
}

// NewPostgresLabRepo はPostgresLabRepoを生成する。
func NewPostgresLabRepo(db *sql.DB) *PostgresLabRepo {
	return &PostgresLabRepo{db: db}
}

// List はuser_idと検索語で絞り込んだラボを1ページ分取得する。
func (r *PostgresLabRepo) List(ctx context.Context, userID string, params model.ListParams) ([]*model.Lab, error) {
	query, args := buildListQuery(userID, params)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ラボ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	labs := make([]*model.Lab, 0, params.Limit)
	for rows.Next() {
		lab := &model.Lab{}
		if err := scanLab(rows, lab); err != nil {
			return nil, fmt.Errorf("ラボのスキャンに失敗しました: %w", err)
		}
		labs = append(labs, lab)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ラボ一覧の走査に失敗しました: %w", err)
	}

	return labs, nil
}

// Count はuser_idと検索語で絞り込んだラボの総件数を返す。
func (r *PostgresLabRepo) Count(ctx context.Context, userID, search string) (int, error) {
	where, args := buildFilter(userID, search)

	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM labs WHERE `+where, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ラボ件数の取得に失敗しました: %w", err)
	}
	return total, nil
}

// FindByIDAndUser は指定ユーザーが所有するラボを取得する。見つからない場合はnilを返す。
func (r *PostgresLabRepo) FindByIDAndUser(ctx context.Context, id int64, userID string) (*model.Lab, error) {
	lab := &model.Lab{}
	err := scanLab(r.db.QueryRowContext(ctx,
		`SELECT `+labColumns+` FROM labs WHERE id = $1 AND user_id = $2`,
		id, userID,
	), lab)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ラボの取得に失敗しました: %w", err)
	}
	return lab, nil
}

// ExistsDuplicate は同一ユーザーに同じタイトルと説明のラボがあるかを返す。
func (r *PostgresLabRepo) ExistsDuplicate(ctx context.Context, userID, title, description string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM labs WHERE user_id = $1 AND title = $2 AND description = $3)`,
		userID, title, description,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ラボの重複確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create はラボを作成する。IDとタイムスタンプはDBが採番する。
func (r *PostgresLabRepo) Create(ctx context.Context, lab *model.Lab) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO labs (title, description, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		lab.Title, lab.Description, lab.UserID,
	).Scan(&lab.ID, &lab.CreatedAt, &lab.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ラボの作成に失敗しました: %w", err)
	}
	return nil
}

// Update は指定フィールドとupdated_atを更新する。対象がない場合はnilを返す。
func (r *PostgresLabRepo) Update(ctx context.Context, id int64, userID string, patch model.LabPatch) (*model.Lab, error) {
	query, args := buildUpdateQuery(id, userID, patch)

	lab := &model.Lab{}
	err := scanLab(r.db.QueryRowContext(ctx, query, args...), lab)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ラボの更新に失敗しました: %w", err)
	}
	return lab, nil
}

// Delete はラボを削除する。削除した場合はtrueを返す。
func (r *PostgresLabRepo) Delete(ctx context.Context, id int64, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM labs WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("ラボの削除に失敗しました: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLab(s rowScanner, lab *model.Lab) error {
	return s.Scan(&lab.ID, &lab.Title, &lab.Description, &lab.UserID, &lab.CreatedAt, &lab.UpdatedAt)
}

// buildFilter はuser_idと検索語のWHERE句と引数を組み立てる。
// 検索語はtitleまたはdescriptionへの大文字小文字を区別しない部分一致で、ワイルドカード文字はエスケープする。
func buildFilter(userID, search string) (string, []any) {
	if search == "" {
		return `user_id = $1`, []any{userID}
	}
	pattern := "%" + likeEscaper.Replace(search) + "%"
	return `user_id = $1 AND (title ILIKE $2 OR description ILIKE $2)`, []any{userID, pattern}
}

// orderByClause は許可リストからORDER BY句を組み立てる。
// 未知の指定はcreated_at降順にフォールバックする。同値の場合はid降順で順序を固定する。
func orderByClause(sortBy, sortOrder string) string {
	col, ok := sortColumns[sortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if sortOrder == model.SortOrderAsc {
		dir = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s, id %s", col, dir, dir)
}

// buildListQuery は一覧取得のSQLと引数を組み立てる。
func buildListQuery(userID string, params model.ListParams) (string, []any) {
	where, args := buildFilter(userID, params.Search)
	n := len(args)
	query := fmt.Sprintf(
		`SELECT %s FROM labs WHERE %s %s LIMIT $%d OFFSET $%d`,
		labColumns, where, orderByClause(params.SortBy, params.SortOrder), n+1, n+2,
	)
	return query, append(args, params.Limit, params.Offset())
}

// buildUpdateQuery は部分更新のSQLと引数を組み立てる。
// SET句に入るカラムはtitleとdescriptionのみで、updated_atは常に更新する。
func buildUpdateQuery(id int64, userID string, patch model.LabPatch) (string, []any) {
	var sets []string
	var args []any

	if patch.Title != nil {
		args = append(args, *patch.Title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	if patch.Description != nil {
		args = append(args, *patch.Description)
		sets = append(sets, fmt.Sprintf("description = $%d", len(args)))
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, id, userID)
	query := fmt.Sprintf(
		`UPDATE labs SET %s WHERE id = $%d AND user_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), labColumns,
	)
	return query, args
}

// compile-time interface check
var _ LabRepository = (*PostgresLabRepo)(nil)
