// Package ratelimit はクライアントIPごとのレート制限ストアを提供する。
package ratelimit

import (
	"context"
	"time"
)

// Policy は1種類のレート制限（時間窓と上限回数）を表す。
type Policy struct {
	Name    string
	Window  time.Duration
	Max     int
	Message string // 429応答に使う文言
}

// Result はAllowの判定結果。
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration // 枠が完全に回復するまでの時間
}

// Store はポリシーとキーの組ごとにリクエスト回数を管理する。
// 拒否されたリクエストは回数に含めない。
type Store interface {
	Allow(ctx context.Context, policy Policy, key string) (Result, error)
}

// 既定のポリシー名
const (
	PolicyAPI     = "api"
	PolicyAuth    = "auth"
	PolicyStrict  = "strict"
	PolicyRelaxed = "relaxed"
)

// Policies はアプリケーションで使うポリシーの組。
type Policies struct {
	API     Policy
	Auth    Policy
	Strict  Policy
	Relaxed Policy
}

// PolicyConfig はPoliciesを組み立てるための閾値。
type PolicyConfig struct {
	Window       time.Duration
	MaxRequests  int
	MaxAuth      int
	StrictWindow time.Duration
	StrictMax    int
	RelaxedMax   int
}

// NewPolicies は閾値から各ポリシーを生成する。
func NewPolicies(c PolicyConfig) Policies {
	return Policies{
		API: Policy{
			Name:    PolicyAPI,
			Window:  c.Window,
			Max:     c.MaxRequests,
			Message: "Too many API requests from this IP, please try again later",
		},
		Auth: Policy{
			Name:    PolicyAuth,
			Window:  c.Window,
			Max:     c.MaxAuth,
			Message: "Too many authentication attempts from this IP, please try again later",
		},
		Strict: Policy{
			Name:    PolicyStrict,
			Window:  c.StrictWindow,
			Max:     c.StrictMax,
			Message: "Too many sensitive operation attempts from this IP, please try again later",
		},
		Relaxed: Policy{
			Name:    PolicyRelaxed,
			Window:  c.Window,
			Max:     c.RelaxedMax,
			Message: "Too many requests from this IP, please try again later",
		},
	}
}
