// Package model はドメインモデルを定義する。
package model

import "time"

// CGMProvider は患者が利用するCGMプロバイダの種別を表す。
type CGMProvider string

const (
	// CGMProviderNone はCGM連携なしを表す。
	CGMProviderNone CGMProvider = "none"
	// CGMProviderLibreLink はLibreLink連携を表す。
	CGMProviderLibreLink CGMProvider = "librelink"
)

// AuthTicket はCGMプロバイダが発行する期限付き認証チケットを表す。
// イミュータブルな値として扱い、再発行時はフィールド更新ではなく丸ごと差し替える。
type AuthTicket struct {
	Token    string // プロバイダ発行の不透明トークン
	Expires  int64  // 有効期限（Unixエポック秒）
	Duration int64  // 発行時の有効期間（秒）
}

// Valid はチケットが指定時刻においてまだ有効かを返す。
// now >= Expires で失効とみなす。時計ずれの補正は行わない。
func (t *AuthTicket) Valid(now time.Time) bool {
	return now.Unix() < t.Expires
}

// Patient はサービス利用患者を表す。
// 同期エンジンはTicketフィールドの読み取りと条件付き書き戻しのみを行い、
// 患者レコードのライフサイクルは管理しない。
type Patient struct {
	ID                string
	Email             string
	Name              string
	Provider          CGMProvider
	ProviderPatientID string      // プロバイダ側の患者ID（GUID文字列）。未連携の場合は空
	UpstreamEmail     string      // プロバイダへのログイン用メールアドレス。未設定の場合は空
	UpstreamPassword  string      // プロバイダへのログイン用パスワード。未設定の場合は空
	Ticket            *AuthTicket // キャッシュされた認証チケット。未取得の場合はnil
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EligibleForSync は患者が同期サイクルの対象となる条件を満たすかを返す。
// 指定プロバイダと一致し、プロバイダ側患者IDとキャッシュ済みチケットの
// 両方を保持している場合のみ対象となる。条件を満たさない患者は
// エラーではなく単にサイクルから除外される。
func (p *Patient) EligibleForSync(provider CGMProvider) bool {
	return p.Provider == provider && p.ProviderPatientID != "" && p.Ticket != nil
}
