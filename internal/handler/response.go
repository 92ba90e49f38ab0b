package handler

// successResponse は成功時の共通レスポンス。
type successResponse struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       any         `json:"data"`
	Pagination *pagination `json:"pagination,omitempty"`
	// 検索ルートのみ。空文字でも出力するためポインタにする
	SearchQuery *string `json:"search_query,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}
