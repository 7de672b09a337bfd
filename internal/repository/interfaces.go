// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/glucopilot/glucosync/internal/model"
)

// PatientRepository は患者データの永続化インターフェース。
// 同期エンジンは患者のライフサイクルを所有せず、対象患者の読み取りと
// 認証チケットの書き戻しのみを行う。
type PatientRepository interface {
	// FindByID は指定IDの患者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Patient, error)

	// ListEligibleForSync は同期サイクルの対象患者を取得する。
	// 指定プロバイダと一致し、provider_patient_idとキャッシュ済みチケットの
	// 両方が非NULLの患者のみを返す。条件を満たさない患者は除外される（エラーではない）。
	ListEligibleForSync(ctx context.Context, provider model.CGMProvider) ([]*model.Patient, error)

	// UpdateTicket は患者のキャッシュ済み認証チケットを差し替える。
	// チケットは丸ごと置換され、部分更新は行わない。
	UpdateTicket(ctx context.Context, patientID string, ticket *model.AuthTicket) error
}

// ReadingRepository は血糖測定値の永続化インターフェース。
type ReadingRepository interface {
	// ExistsByUserAndTime は指定患者・指定時刻の測定値が既に存在するかを返す。
	// 冪等な取り込みの事前チェックとして使用する。
	ExistsByUserAndTime(ctx context.Context, userID string, created time.Time) (bool, error)

	// Create は測定値を挿入する。(user_id, created)の一意制約違反の場合は
	// model.ErrDuplicateReadingを返す。呼び出し側はこれを冪等なno-opとして扱う。
	Create(ctx context.Context, reading *model.Reading) error
}
