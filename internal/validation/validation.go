// Package validation はリクエスト入力の検証と正規化を提供する。
// すべての検証関数は最初の失敗で止まらず、全ての違反をmodel.ValidationErrorに集めて返す。
package validation

import (
	"fmt"
	"math"
	"net/mail"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/scriptlabs/internal/model"
)

// 文字数の上限
const (
	TitleMaxLen       = 255
	DescriptionMaxLen = 1000
	SearchMaxLen      = 255
	PasswordMinLen    = 6
	PasswordMaxLen    = 128
)

var sortByValues = []string{
	model.SortByTitle,
	model.SortByDescription,
	model.SortByCreatedAt,
	model.SortByUpdatedAt,
}

var sortOrderValues = []string{model.SortOrderAsc, model.SortOrderDesc}

// Credentials は検証済みのメールアドレスとパスワード。
type Credentials struct {
	Email    string
	Password string
}

// stringField は1つの文字列フィールドの検証規則とメッセージ。
type stringField struct {
	key      string
	label    string
	min, max int
	required bool
	// 空の場合は汎用の文言を使う
	emptyMsg string
	maxMsg   string
}

// check はbody[key]を検証し、正規化済み（trim済み）の値を返す。
// presentはキーが存在したかを示す。
func (f stringField) check(body map[string]any, verr *model.ValidationError) (value string, present bool) {
	raw, ok := body[f.key]
	if !ok || raw == nil {
		if f.required {
			verr.Add(f.label + " is required")
		}
		return "", false
	}

	s, ok := raw.(string)
	if !ok {
		verr.Add(fmt.Sprintf("%q must be a string", f.key))
		return "", true
	}

	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	switch {
	case n == 0:
		if f.emptyMsg != "" {
			verr.Add(f.emptyMsg)
		} else {
			verr.Add(fmt.Sprintf("%q is not allowed to be empty", f.key))
		}
	case n < f.min:
		verr.Add(fmt.Sprintf("%q length must be at least %d characters long", f.key, f.min))
	case n > f.max:
		if f.maxMsg != "" {
			verr.Add(f.maxMsg)
		} else {
			verr.Add(fmt.Sprintf("%q length must be less than or equal to %d characters long", f.key, f.max))
		}
	}
	return s, true
}

var (
	createTitle = stringField{
		key: "title", label: "Title", min: 1, max: TitleMaxLen, required: true,
		emptyMsg: "Title cannot be empty",
		maxMsg:   "Title cannot exceed 255 characters",
	}
	createDescription = stringField{
		key: "description", label: "Description", min: 1, max: DescriptionMaxLen, required: true,
		emptyMsg: "Description cannot be empty",
		maxMsg:   "Description cannot exceed 1000 characters",
	}
	updateTitle       = stringField{key: "title", label: "Title", min: 1, max: TitleMaxLen}
	updateDescription = stringField{key: "description", label: "Description", min: 1, max: DescriptionMaxLen}
)

// LabCreate はラボ作成ボディを検証する。title/descriptionともに必須。
// 未知のキーは無視される。
func LabCreate(body map[string]any) (model.LabInput, error) {
	verr := &model.ValidationError{}

	title, _ := createTitle.check(body, verr)
	description, _ := createDescription.check(body, verr)

	if err := verr.OrNil(); err != nil {
		return model.LabInput{}, err
	}
	return model.LabInput{Title: title, Description: description}, nil
}

// LabUpdate はラボ部分更新ボディを検証する。
// title/descriptionのうち少なくとも1つが必要で、それ以外のキーは取り除かれる。
func LabUpdate(body map[string]any) (model.LabPatch, error) {
	verr := &model.ValidationError{}
	var patch model.LabPatch

	if title, ok := updateTitle.check(body, verr); ok {
		patch.Title = &title
	}
	if description, ok := updateDescription.check(body, verr); ok {
		patch.Description = &description
	}

	if patch.IsEmpty() && !verr.HasErrors() {
		verr.Add(`"value" must have at least 1 key`)
	}

	if err := verr.OrNil(); err != nil {
		return model.LabPatch{}, err
	}
	return patch, nil
}

// AuthCredentials は登録・ログインのボディを検証する。
func AuthCredentials(body map[string]any) (Credentials, error) {
	verr := &model.ValidationError{}
	var creds Credentials

	switch raw := body["email"].(type) {
	case nil:
		verr.Add("Email is required")
	case string:
		if raw == "" {
			verr.Add(`"email" is not allowed to be empty`)
		} else if !isEmail(raw) {
			verr.Add("Please provide a valid email address")
		} else {
			creds.Email = raw
		}
	default:
		verr.Add(`"email" must be a string`)
	}

	switch raw := body["password"].(type) {
	case nil:
		verr.Add("Password is required")
	case string:
		n := utf8.RuneCountInString(raw)
		switch {
		case n == 0:
			verr.Add(`"password" is not allowed to be empty`)
		case n < PasswordMinLen:
			verr.Add("Password must be at least 6 characters long")
		case n > PasswordMaxLen:
			verr.Add("Password cannot exceed 128 characters")
		default:
			creds.Password = raw
		}
	default:
		verr.Add(`"password" must be a string`)
	}

	if err := verr.OrNil(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// isEmail は表示名を含まない単一のメールアドレスで、ドメインにドットを含むかを返す。
func isEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	domain := s[at+1:]
	return strings.Contains(domain, ".") &&
		!strings.HasPrefix(domain, ".") &&
		!strings.HasSuffix(domain, ".")
}

// IDParam はパスパラメータのラボIDを検証する。正の整数のみを受け付ける。
func IDParam(raw string) (int64, error) {
	verr := &model.ValidationError{}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		verr.Add("ID is required")
		return 0, verr
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 {
		verr.Add("ID must be a number")
		return 0, verr
	}
	if f != math.Trunc(f) {
		verr.Add("ID must be an integer")
	}
	if f <= 0 {
		verr.Add("ID must be a positive number")
	}
	if err := verr.OrNil(); err != nil {
		return 0, err
	}

	// 指数表記("1e3")などはParseIntできないためfloatから変換する
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, nil
	}
	return int64(f), nil
}

// ListQuery は一覧取得のクエリ文字列を検証して既定値を補う。
// searchKeyは検索語のパラメータ名（/labsは"search"、/labs/searchは"q"）。
// 範囲外のpage/limitは1..MaxLimitに丸める。
// 数値でない値、整数でない値、許可されていないソート指定は常にエラーになる。
func ListQuery(q map[string][]string, searchKey string) (model.ListParams, error) {
	verr := &model.ValidationError{}
	params := model.ListParams{
		Page:      model.DefaultPage,
		Limit:     model.DefaultLimit,
		SortBy:    model.SortByCreatedAt,
		SortOrder: model.SortOrderDesc,
	}

	search := first(q, searchKey)
	if utf8.RuneCountInString(search) > SearchMaxLen {
		verr.Add(fmt.Sprintf("%q length must be less than or equal to %d characters long", searchKey, SearchMaxLen))
	}
	params.Search = search

	if v, ok := intParam(q, "page", verr); ok {
		params.Page = max(v, 1)
	}

	if v, ok := intParam(q, "limit", verr); ok {
		params.Limit = min(max(v, 1), model.MaxLimit)
	}

	if v := first(q, "sortBy"); v != "" {
		if !slices.Contains(sortByValues, v) {
			verr.Add(fmt.Sprintf(`"sortBy" must be one of [%s]`, strings.Join(sortByValues, ", ")))
		} else {
			params.SortBy = v
		}
	}

	if v := first(q, "sortOrder"); v != "" {
		if !slices.Contains(sortOrderValues, v) {
			verr.Add(fmt.Sprintf(`"sortOrder" must be one of [%s]`, strings.Join(sortOrderValues, ", ")))
		} else {
			params.SortOrder = v
		}
	}

	if err := verr.OrNil(); err != nil {
		return model.ListParams{}, err
	}
	return params, nil
}

// intParam はクエリの整数パラメータを読む。未指定ならokはfalse。
func intParam(q map[string][]string, key string, verr *model.ValidationError) (int, bool) {
	raw := first(q, key)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		verr.Add(fmt.Sprintf("%q must be a number", key))
		return 0, false
	}
	if f != math.Trunc(f) {
		verr.Add(fmt.Sprintf("%q must be an integer", key))
		return 0, false
	}
	// 極端な値はintに収まる範囲に丸める
	if f > math.MaxInt32 {
		f = math.MaxInt32
	}
	if f < math.MinInt32 {
		f = math.MinInt32
	}
	return int(f), true
}

func first(q map[string][]string, key string) string {
	if vs := q[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
