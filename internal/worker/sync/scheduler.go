// Package sync はCGM測定値のバックグラウンド同期処理を提供する。
// スケジューラと患者ごとの同期サイクルオーケストレータを含む。
package sync

import (
	"context"
	"log/slog"
	"time"
)

// CycleRunner は1回の同期サイクルの実行インターフェース。
type CycleRunner interface {
	// RunCycle は同期対象の全患者に対して1回の同期サイクルを実行する。
	RunCycle(ctx context.Context) error
}

// Scheduler は固定周期で同期サイクルを起動する。
//
// 重複実行ポリシー: サイクルはティッカーのgoroutine上で同期的に実行される。
// サイクル実行中に到来したティックはtime.Tickerの仕様により合流・破棄される
// ため、サイクル同士が重なることはない（skip-if-busy）。前のサイクルの所要時間
// に関わらず、完了後は次のティックで再び発火する。
type Scheduler struct {
	runner CycleRunner
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner CycleRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		logger: logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// 起動直後に1回サイクルを実行し、以降はコンテキストがキャンセルされるまで
// 周期的に実行を継続する。サイクルから漏れたエラー（対象患者の取得失敗等）は
// ここで捕捉してログに記録し、スケジューラ自体は停止しない。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.runner.RunCycle(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.runner.RunCycle(ctx); err != nil {
				s.logger.Error("同期サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
