package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/glucopilot/glucosync/internal/librelink"
	"github.com/glucopilot/glucosync/internal/model"
	"github.com/glucopilot/glucosync/internal/repository"
)

// UpstreamClient はCGMプロバイダAPIのセッション単位クライアントのインターフェース。
type UpstreamClient interface {
	// LoginWithTicket はキャッシュ済みチケットのみでセッションを再開する。
	LoginWithTicket(ctx context.Context, ticket *model.AuthTicket) error
	// Login は認証情報で新規ログインし、発行されたチケットを返す。
	Login(ctx context.Context, email, password string) (*model.AuthTicket, error)
	// FetchLatestGraph は患者の測定グラフを取得する。データなしの場合は(nil, nil)。
	FetchLatestGraph(ctx context.Context, providerPatientID string) (*librelink.GraphInformation, error)
}

// librelink.ClientがUpstreamClientを満たすことのコンパイル時チェック。
var _ UpstreamClient = (*librelink.Client)(nil)

// ClientFactory は患者ごとに新しいセッション単位クライアントを生成する。
// サイクル間・患者間で認証状態を共有しないための分離点。
type ClientFactory func() UpstreamClient

// MetricsCollector は同期処理のメトリクス収集インターフェース。
type MetricsCollector interface {
	RecordCycleDuration(duration time.Duration)
	RecordPatientSynced()
	RecordPatientSkipped()
	RecordPatientFailed()
	RecordReadingInserted()
	RecordDuplicateSuppressed()
}

// Syncer は同期サイクルのオーケストレータ。
// 対象患者ごとに 認証 → 取得 → 正規化 → 重複チェック → 永続化 を実行し、
// 患者単位で障害を隔離する。ある患者の失敗は他の患者の処理にも
// スケジューラにも伝播しない。
type Syncer struct {
	patientRepo    repository.PatientRepository
	readingRepo    repository.ReadingRepository
	newClient      ClientFactory
	metrics        MetricsCollector
	logger         *slog.Logger
	provider       model.CGMProvider
	maxConcurrency int
}

// NewSyncer はSyncerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewSyncer(
	patientRepo repository.PatientRepository,
	readingRepo repository.ReadingRepository,
	newClient ClientFactory,
	metrics MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
) *Syncer {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Syncer{
		patientRepo:    patientRepo,
		readingRepo:    readingRepo,
		newClient:      newClient,
		metrics:        metrics,
		logger:         logger,
		provider:       model.CGMProviderLibreLink,
		maxConcurrency: maxConcurrency,
	}
}

// RunCycle は同期対象患者を1回取得し、semaphoreパターンで最大並列数を
// 制御しながら患者ごとの同期を実行する。対象患者の取得失敗のみが
// サイクル全体のエラーとなり、患者単位の失敗はログに記録して継続する。
func (s *Syncer) RunCycle(ctx context.Context) error {
	start := time.Now()

	patients, err := s.patientRepo.ListEligibleForSync(ctx, s.provider)
	if err != nil {
		return fmt.Errorf("同期対象患者の取得に失敗しました: %w", err)
	}

	if len(patients) == 0 {
		s.logger.Info("同期対象の患者はいません")
		return nil
	}

	s.logger.Info("同期サイクルを開始します",
		slog.Int("patient_count", len(patients)),
	)

	var synced, failed int64

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, patient := range patients {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(p *model.Patient) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.SyncPatient(ctx, p); err != nil {
				atomic.AddInt64(&failed, 1)
				s.metrics.RecordPatientFailed()
				s.logger.Error("患者の同期に失敗しました",
					slog.String("patient_id", p.ID),
					slog.String("provider_patient_id", p.ProviderPatientID),
					slog.String("error", err.Error()),
				)
				return
			}
			atomic.AddInt64(&synced, 1)
		}(patient)
	}

	wg.Wait()

	duration := time.Since(start)
	s.metrics.RecordCycleDuration(duration)
	s.logger.Info("同期サイクルが完了しました",
		slog.Int("patient_count", len(patients)),
		slog.Int64("synced", atomic.LoadInt64(&synced)),
		slog.Int64("failed", atomic.LoadInt64(&failed)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// SyncPatient は1人の患者の同期を実行する。
// 認証・取得・正規化・重複チェック・永続化のいずれかで発生したエラーを
// 返すが、呼び出し側（RunCycle）はそれをログに記録するのみで、
// 他の患者の処理は継続される。
func (s *Syncer) SyncPatient(ctx context.Context, patient *model.Patient) error {
	// リポジトリのクエリ条件と同じフィルタの防御的な再チェック。
	// 条件を満たさない患者はアップストリーム呼び出しを一切行わず除外する。
	if !patient.EligibleForSync(s.provider) {
		s.logger.Debug("同期条件を満たさない患者をスキップします",
			slog.String("patient_id", patient.ID),
		)
		s.metrics.RecordPatientSkipped()
		return nil
	}

	client := s.newClient()

	// キャッシュ済みチケットでのセッション再開を最優先する。
	// チケットが失効している場合のみ保存済み認証情報での再ログインに回る。
	err := client.LoginWithTicket(ctx, patient.Ticket)
	if errors.Is(err, model.ErrAuthExpired) {
		if err := s.refreshSession(ctx, client, patient); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("セッションの再開に失敗しました: %w", err)
	}

	graph, err := client.FetchLatestGraph(ctx, patient.ProviderPatientID)
	if errors.Is(err, model.ErrAuthExpired) {
		// アップストリーム側で拒否されたチケット。認証情報があれば
		// 1回だけ再ログインして取得をやり直す（サイクル内リトライはこの1回のみ）。
		if err := s.refreshSession(ctx, client, patient); err != nil {
			return err
		}
		graph, err = client.FetchLatestGraph(ctx, patient.ProviderPatientID)
	}
	if err != nil {
		return fmt.Errorf("測定グラフの取得に失敗しました: %w", err)
	}

	current := graph.Current()
	if current == nil {
		// グラフなし・直近測定なしは正常な結果
		s.logger.Info("直近の測定値が存在しないためスキップします",
			slog.String("patient_id", patient.ID),
			slog.String("provider_patient_id", patient.ProviderPatientID),
		)
		s.metrics.RecordPatientSkipped()
		return nil
	}

	created, err := librelink.ParseFactoryTimestamp(current.FactoryTimestamp)
	if err != nil {
		return fmt.Errorf("測定時刻の正規化に失敗しました: %w", err)
	}

	exists, err := s.readingRepo.ExistsByUserAndTime(ctx, patient.ID, created)
	if err != nil {
		return fmt.Errorf("測定値の存在チェックに失敗しました: %w", err)
	}
	if exists {
		// アップストリームがまだ新しい測定点を出していない。冪等なno-op
		s.logger.Debug("同一時刻の測定値が既に存在するためスキップします",
			slog.String("patient_id", patient.ID),
			slog.Time("created", created),
		)
		s.metrics.RecordDuplicateSuppressed()
		return nil
	}

	reading := &model.Reading{
		ID:           uuid.New().String(),
		UserID:       patient.ID,
		Created:      created,
		GlucoseLevel: current.Value,
		Direction:    model.DirectionFromTrendArrow(current.TrendArrow),
	}

	if err := s.readingRepo.Create(ctx, reading); err != nil {
		if errors.Is(err, model.ErrDuplicateReading) {
			// 存在チェックと挿入の間のレース。一意制約が検出した重複も冪等なno-op
			s.logger.Debug("挿入時に重複が検出されたためスキップします",
				slog.String("patient_id", patient.ID),
				slog.Time("created", created),
			)
			s.metrics.RecordDuplicateSuppressed()
			return nil
		}
		return fmt.Errorf("測定値の挿入に失敗しました: %w", err)
	}

	s.metrics.RecordReadingInserted()
	s.metrics.RecordPatientSynced()
	s.logger.Info("測定値を登録しました",
		slog.String("patient_id", patient.ID),
		slog.Time("created", created),
		slog.Float64("glucose_level", reading.GlucoseLevel),
		slog.Int("direction", int(reading.Direction)),
	)

	return nil
}

// refreshSession は保存済み認証情報で新規ログインし、発行されたチケットを
// 患者レコードに書き戻す。認証情報が保存されていない患者は再ログイン
// できないためmodel.ErrAuthExpiredを返し、このサイクルではスキップされる。
func (s *Syncer) refreshSession(ctx context.Context, client UpstreamClient, patient *model.Patient) error {
	if patient.UpstreamEmail == "" || patient.UpstreamPassword == "" {
		return fmt.Errorf("チケットが失効しており保存済み認証情報もありません: %w", model.ErrAuthExpired)
	}

	fresh, err := client.Login(ctx, patient.UpstreamEmail, patient.UpstreamPassword)
	if err != nil {
		return fmt.Errorf("保存済み認証情報での再ログインに失敗しました: %w", err)
	}

	// トークン値が実際に変化した場合のみ書き戻す（毎サイクルの無駄な書き込みを避ける）
	if patient.Ticket == nil || fresh.Token != patient.Ticket.Token {
		if err := s.patientRepo.UpdateTicket(ctx, patient.ID, fresh); err != nil {
			// チケットは再発行可能な認証情報のため、書き戻し失敗は
			// このサイクルの同期を妨げない。次サイクルで再ログインされる
			s.logger.Error("認証チケットの書き戻しに失敗しました",
				slog.String("patient_id", patient.ID),
				slog.String("error", err.Error()),
			)
		}
		patient.Ticket = fresh
	}

	return nil
}
