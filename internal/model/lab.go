package model

import "time"

// Lab はユーザーが所有するラボ（タイトルと説明）を表す。
// すべての読み書きはUserIDで絞り込まれる。
type Lab struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LabInput はラボ作成時の検証済み入力。
type LabInput struct {
	Title       string
	Description string
}

// LabPatch はラボの部分更新内容。nilのフィールドは変更しない。
type LabPatch struct {
	Title       *string
	Description *string
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (p LabPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil
}

// ソート対象カラムと順序
const (
	SortByTitle       = "title"
	SortByDescription = "description"
	SortByCreatedAt   = "created_at"
	SortByUpdatedAt   = "updated_at"

	SortOrderAsc  = "asc"
	SortOrderDesc = "desc"
)

// 一覧取得のページング既定値
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ListParams はラボ一覧取得の条件。
type ListParams struct {
	Search    string
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// Offset はページ番号とページサイズからOFFSETを算出する。
func (p ListParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// LabPage はページング済みのラボ一覧。
type LabPage struct {
	Labs  []*Lab
	Total int
}

// TotalPages は総件数とページサイズから総ページ数を返す。
func (p LabPage) TotalPages(limit int) int {
	if limit <= 0 {
		return 0
	}
	return (p.Total + limit - 1) / limit
}

// Identity はアクセストークンから復元した呼び出し元の情報。
// ユーザー情報自体は外部IdPが保持し、本サービスは永続化しない。
type Identity struct {
	UserID    string
	Email     string
	ExpiresAt int64 // expクレーム（Unix秒）
}
