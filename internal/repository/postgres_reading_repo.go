package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/glucopilot/glucosync/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATEコード。
const uniqueViolation = pq.ErrorCode("23505")

// PostgresReadingRepo はPostgreSQLを使用した血糖測定値リポジトリ。
type PostgresReadingRepo struct {
	db *sql.DB
}

// NewPostgresReadingRepo はPostgresReadingRepoを生成する。
func NewPostgresReadingRepo(db *sql.DB) *PostgresReadingRepo {
	return &PostgresReadingRepo{db: db}
}

// ExistsByUserAndTime は指定患者・指定時刻の測定値が既に存在するかを返す。
func (r *PostgresReadingRepo) ExistsByUserAndTime(ctx context.Context, userID string, created time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM readings WHERE user_id = $1 AND created = $2)`,
		userID, created,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("測定値の存在チェックに失敗しました: %w", err)
	}
	return exists, nil
}

// Create は測定値を挿入する。
// (user_id, created)の一意制約違反の場合はmodel.ErrDuplicateReadingを返す。
// 事前の存在チェックと挿入の間のレースは制約側で検出され、
// 呼び出し側で冪等なno-opとして扱われる。
func (r *PostgresReadingRepo) Create(ctx context.Context, reading *model.Reading) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO readings (id, user_id, created, glucose_level, direction)
		 VALUES ($1, $2, $3, $4, $5)`,
		reading.ID, reading.UserID, reading.Created,
		reading.GlucoseLevel, int(reading.Direction),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return model.ErrDuplicateReading
		}
		return fmt.Errorf("測定値の挿入に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ReadingRepository = (*PostgresReadingRepo)(nil)
