package librelink

import (
	"fmt"
	"time"
)

// factoryTimestampLayout はFactoryTimestampの固定レイアウト（"M/d/yyyy h:mm:ss tt"）。
// ゼロ埋めなしの月・日・時を含む12時間表記。
const factoryTimestampLayout = "1/2/2006 3:04:05 PM"

// ParseFactoryTimestamp はアップストリームのローカル日時文字列を
// UTCの時刻（秒精度）に正規化する純粋関数。
//
// 既知の制限: この変換はタイムゾーン変換ではなく「付け替え」である。
// パースしたローカルのカレンダー値をそのままUTCのカレンダー値として
// 解釈する（オフセットは適用しない）。下流の重複排除と表示ロジックが
// このマッピングに依存しているため、互換性のためこの挙動を維持すること。
//
// レイアウトに一致しない文字列はパースエラーを返す。呼び出し側は
// これを患者単位のサイクル失敗として扱う（エンジン全体の失敗ではない）。
func ParseFactoryTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(factoryTimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("FactoryTimestampのパースに失敗しました: %w", err)
	}
	return t.Truncate(time.Second), nil
}
