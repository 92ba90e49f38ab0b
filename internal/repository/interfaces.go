// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/scriptlabs/internal/model"
)

// LabRepository はラボデータの永続化インターフェース。
// すべての操作は所有者のuser_idで絞り込まれる。
type LabRepository interface {
	// List は条件に一致するラボを1ページ分取得する。
	List(ctx context.Context, userID string, params model.ListParams) ([]*model.Lab, error)

	// Count は条件に一致するラボの総件数を返す。ページングは無視する。
	Count(ctx context.Context, userID, search string) (int, error)

	// FindByIDAndUser は指定ユーザーが所有する指定IDのラボを取得する。
	// 見つからない場合（他ユーザー所有を含む）はnilを返す。
	FindByIDAndUser(ctx context.Context, id int64, userID string) (*model.Lab, error)

	// ExistsDuplicate は同一ユーザーに同じタイトルと説明のラボがあるかを返す。
	ExistsDuplicate(ctx context.Context, userID, title, description string) (bool, error)

	// Create はラボを作成し、採番されたIDとタイムスタンプをlabに設定する。
	Create(ctx context.Context, lab *model.Lab) error

	// Update は指定フィールドとupdated_atを更新し、更新後のラボを返す。
	// 対象がない場合はnilを返す。
	Update(ctx context.Context, id int64, userID string, patch model.LabPatch) (*model.Lab, error)

	// Delete はラボを削除する。削除した場合はtrueを返す。
	Delete(ctx context.Context, id int64, userID string) (bool, error)
}
