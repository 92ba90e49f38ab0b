// Package lab はラボ管理のドメインロジックを提供する。
package lab

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/scriptlabs/internal/model"
	"github.com/hitoshi/scriptlabs/internal/repository"
)

var (
	// ErrNotFound はラボが存在しないか、呼び出し元の所有でない場合に返される。
	ErrNotFound = errors.New("lab not found")
	// ErrDuplicate は同一ユーザーに同じタイトルと説明のラボが既にある場合に返される。
	ErrDuplicate = errors.New("duplicate lab")
)

// Service はラボのCRUDを提供する。すべての操作は呼び出し元のuserIDで絞り込まれる。
type Service struct {
	repo repository.LabRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.LabRepository) *Service {
	return &Service{repo: repo}
}

// List はページング済みのラボ一覧と総件数を返す。
// ページ取得とCOUNTは並行して実行する。
func (s *Service) List(ctx context.Context, userID string, params model.ListParams) (*model.LabPage, error) {
	var (
		labs  []*model.Lab
		total int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		labs, err = s.repo.List(gctx, userID, params)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.Count(gctx, userID, params.Search)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ラボ一覧の取得に失敗しました: %w", err)
	}

	if labs == nil {
		labs = []*model.Lab{}
	}
	return &model.LabPage{Labs: labs, Total: total}, nil
}

// Get は呼び出し元が所有するラボを返す。
func (s *Service) Get(ctx context.Context, userID string, id int64) (*model.Lab, error) {
	lab, err := s.repo.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("ラボの取得に失敗しました: %w", err)
	}
	if lab == nil {
		return nil, ErrNotFound
	}
	return lab, nil
}

// Create は重複を確認したうえでラボを作成する。
// 確認と挿入は別の文のため、同時作成はDBの一意インデックスで拒否される。
func (s *Service) Create(ctx context.Context, userID string, in model.LabInput) (*model.Lab, error) {
	exists, err := s.repo.ExistsDuplicate(ctx, userID, in.Title, in.Description)
	if err != nil {
		return nil, fmt.Errorf("ラボの重複確認に失敗しました: %w", err)
	}
	if exists {
		return nil, ErrDuplicate
	}

	lab := &model.Lab{
		Title:       in.Title,
		Description: in.Description,
		UserID:      userID,
	}
	if err := s.repo.Create(ctx, lab); err != nil {
		return nil, fmt.Errorf("ラボの作成に失敗しました: %w", err)
	}
	return lab, nil
}

// Update は指定フィールドを更新して更新後のラボを返す。
func (s *Service) Update(ctx context.Context, userID string, id int64, patch model.LabPatch) (*model.Lab, error) {
	if patch.IsEmpty() {
		return nil, errors.New("empty lab patch")
	}

	lab, err := s.repo.Update(ctx, id, userID, patch)
	if err != nil {
		return nil, fmt.Errorf("ラボの更新に失敗しました: %w", err)
	}
	if lab == nil {
		return nil, ErrNotFound
	}
	return lab, nil
}

// Delete はラボを削除する。
func (s *Service) Delete(ctx context.Context, userID string, id int64) error {
	deleted, err := s.repo.Delete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("ラボの削除に失敗しました: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}
