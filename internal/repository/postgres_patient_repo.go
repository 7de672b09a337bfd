package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/glucopilot/glucosync/internal/model"
)

// PostgresPatientRepo はPostgreSQLを使用した患者リポジトリ。
type PostgresPatientRepo struct {
	db *sql.DB
}

// NewPostgresPatientRepo はPostgresPatientRepoを生成する。
func NewPostgresPatientRepo(db *sql.DB) *PostgresPatientRepo {
	return &PostgresPatientRepo{db: db}
}

// patientColumns は患者取得クエリで選択するカラムの並び。
const patientColumns = `id, email, name, cgm_provider, provider_patient_id,
	        upstream_email, upstream_password,
	        ticket_token, ticket_expires, ticket_duration,
	        created_at, updated_at`

// FindByID は指定IDの患者を取得する。見つからない場合はnilを返す。
func (r *PostgresPatientRepo) FindByID(ctx context.Context, id string) (*model.Patient, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE id = $1`,
		id,
	)

	patient, err := scanPatient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("患者の取得に失敗しました: %w", err)
	}
	return patient, nil
}

// ListEligibleForSync は同期サイクルの対象患者を取得する。
// プロバイダ一致かつprovider_patient_id・ticket_tokenが非NULLの患者のみを返す。
func (r *PostgresPatientRepo) ListEligibleForSync(ctx context.Context, provider model.CGMProvider) ([]*model.Patient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+patientColumns+`
		 FROM patients
		 WHERE cgm_provider = $1
		   AND provider_patient_id IS NOT NULL
		   AND ticket_token IS NOT NULL
		 ORDER BY id`,
		string(provider),
	)
	if err != nil {
		return nil, fmt.Errorf("同期対象患者の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var patients []*model.Patient
	for rows.Next() {
		patient, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("同期対象患者の読み取りに失敗しました: %w", err)
		}
		patients = append(patients, patient)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("同期対象患者の走査に失敗しました: %w", err)
	}

	return patients, nil
}

// UpdateTicket は患者のキャッシュ済み認証チケットを丸ごと差し替える。
func (r *PostgresPatientRepo) UpdateTicket(ctx context.Context, patientID string, ticket *model.AuthTicket) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE patients SET
		    ticket_token = $2,
		    ticket_expires = $3,
		    ticket_duration = $4,
		    updated_at = now()
		 WHERE id = $1`,
		patientID, ticket.Token, ticket.Expires, ticket.Duration,
	)
	if err != nil {
		return fmt.Errorf("認証チケットの更新に失敗しました: %w", err)
	}
	return nil
}

// rowScanner はsql.Rowとsql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPatient は1行分の患者レコードをmodel.Patientに読み取る。
// チケット3カラムが揃っている場合のみAuthTicketを構築する。
func scanPatient(row rowScanner) (*model.Patient, error) {
	patient := &model.Patient{}
	var providerPatientID, upstreamEmail, upstreamPassword, ticketToken sql.NullString
	var ticketExpires, ticketDuration sql.NullInt64

	err := row.Scan(
		&patient.ID, &patient.Email, &patient.Name, &patient.Provider,
		&providerPatientID, &upstreamEmail, &upstreamPassword,
		&ticketToken, &ticketExpires, &ticketDuration,
		&patient.CreatedAt, &patient.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	patient.ProviderPatientID = nullStringValue(providerPatientID)
	patient.UpstreamEmail = nullStringValue(upstreamEmail)
	patient.UpstreamPassword = nullStringValue(upstreamPassword)

	if ticketToken.Valid {
		patient.Ticket = &model.AuthTicket{
			Token:    ticketToken.String,
			Expires:  ticketExpires.Int64,
			Duration: ticketDuration.Int64,
		}
	}

	return patient, nil
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ PatientRepository = (*PostgresPatientRepo)(nil)
