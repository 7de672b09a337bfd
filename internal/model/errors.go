// Package model はドメインモデルを定義する。
package model

import "errors"

// アップストリーム認証の3種のエラー。呼び出し側はこの区別により
// 保存済み認証情報での再ログイン・サイクルのスキップのいずれかを選択する。
var (
	// ErrAuthExpired はキャッシュ済みチケットがアップストリームに拒否された、
	// または期限切れであることを表す。
	ErrAuthExpired = errors.New("認証チケットの有効期限が切れています")

	// ErrNotAuthenticated は未認証の状態でデータ取得を試みたことを表す。
	ErrNotAuthenticated = errors.New("アップストリームに対して未認証です")

	// ErrAuthFailed はユーザー名・パスワードによるログインが失敗したことを表す。
	ErrAuthFailed = errors.New("アップストリームへのログインに失敗しました")
)

// ErrDuplicateReading は (user_id, created) の一意制約違反を表す。
// 存在チェックと挿入の間のレースで発生し得るが、重複排除の観点では
// 冪等なno-opとして扱われる。
var ErrDuplicateReading = errors.New("同一患者・同一時刻の測定値が既に存在します")
