// Package model はドメインモデルを定義する。
package model

import "time"

// ReadingDirection は血糖値の変化傾向を表す。
// 値はLibreLinkのトレンド矢印（整数）と1:1で対応する。
type ReadingDirection int

const (
	// DirectionNotComputable は傾向が算出不能であることを表す。
	DirectionNotComputable ReadingDirection = 0
	// DirectionRapidDecrease は急速な低下傾向を表す。
	DirectionRapidDecrease ReadingDirection = 1
	// DirectionDecrease は低下傾向を表す。
	DirectionDecrease ReadingDirection = 2
	// DirectionSteady は横ばい傾向を表す。
	DirectionSteady ReadingDirection = 3
	// DirectionIncrease は上昇傾向を表す。
	DirectionIncrease ReadingDirection = 4
	// DirectionRapidIncrease は急速な上昇傾向を表す。
	DirectionRapidIncrease ReadingDirection = 5
)

// DirectionFromTrendArrow はLibreLinkのトレンド矢印（整数）を
// ReadingDirectionに変換する。既知の範囲（0〜5）外の値も検証せず
// そのまま受け入れる。アップストリームの仕様が範囲を保証しないため、
// 拒否もクランプも行わない。
func DirectionFromTrendArrow(arrow int) ReadingDirection {
	return ReadingDirection(arrow)
}

// Reading は患者の血糖値測定値を表す。
// 不変条件: (UserID, Created) の組につき最大1件。アップストリームは
// 新しい測定点が出るより高頻度でポーリングされ得るため、この組での
// 重複排除が冪等な取り込みの要となる。
// この サブシステムからは挿入のみ行い、更新・削除は行わない。
type Reading struct {
	ID           string
	UserID       string
	Created      time.Time // UTC・秒精度に正規化済みの測定時刻
	GlucoseLevel float64
	Direction    ReadingDirection
}
