// Package librelink はLibreLink CGMクラウドAPIのクライアントを提供する。
// 認証チケットのライフサイクル管理と患者の測定グラフ取得を含む。
package librelink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/glucopilot/glucosync/internal/model"
)

const (
	// loginPath はメールアドレス・パスワードによるログインのエンドポイントパス。
	loginPath = "/llu/auth/login"
	// graphPathFormat は患者の測定グラフ取得のエンドポイントパス。
	graphPathFormat = "/llu/connections/%s/graph"

	// productHeader / versionHeader はLibreLink APIが要求するクライアント識別ヘッダー。
	productHeader = "llu.android"
	versionHeader = "4.7.0"

	// maxResponseSize はレスポンスボディの最大読み取りサイズ。
	maxResponseSize = 1 << 20 // 1MiB
)

// GraphPoint はアップストリームの1測定点を表す（ワイヤ形式）。
// 永続化されず、Readingへの変換後に破棄される。
type GraphPoint struct {
	// FactoryTimestamp はプロバイダローカルの日時文字列（"M/d/yyyy h:mm:ss tt"形式）。
	FactoryTimestamp string  `json:"FactoryTimestamp"`
	Value            float64 `json:"Value"`
	TrendArrow       int     `json:"TrendArrow"`
}

// Connection はアップストリームの患者接続情報を表す（ワイヤ形式）。
type Connection struct {
	PatientID string `json:"patientId"`
	// CurrentMeasurement は直近の測定点。測定が存在しない場合はnil（正常系）。
	CurrentMeasurement *GraphPoint `json:"glucoseMeasurement"`
}

// GraphInformation はアップストリームの測定グラフレスポンスを表す（ワイヤ形式）。
type GraphInformation struct {
	Connection Connection `json:"connection"`
	// GraphData は測定履歴。この同期エンジンは直近の測定点のみを消費するが、
	// 実際のレスポンス形状に合わせてデコードする。
	GraphData []GraphPoint `json:"graphData"`
}

// Current は直近の測定点を返す。存在しない場合はnilを返す。
func (g *GraphInformation) Current() *GraphPoint {
	if g == nil {
		return nil
	}
	return g.Connection.CurrentMeasurement
}

// apiResponse はLibreLink APIの共通レスポンスラッパー。
// statusが0以外の場合はAPIレベルのエラーを表す。
type apiResponse struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// loginData はログインレスポンスのdataフィールド。
type loginData struct {
	AuthTicket *authTicketWire `json:"authTicket"`
}

// authTicketWire は認証チケットのワイヤ形式。
type authTicketWire struct {
	Token    string `json:"token"`
	Expires  int64  `json:"expires"`
	Duration int64  `json:"duration"`
}

// Client はLibreLink APIのセッション単位のクライアント。
// ログイン（チケットまたは認証情報）後に測定グラフの取得が可能になる。
// 同期サイクルごと・患者ごとに新しいインスタンスを生成して使い捨てる。
// 並行利用は想定しない。
type Client struct {
	httpClient *http.Client
	endpoint   string
	logger     *slog.Logger
	limiter    *rate.Limiter

	token string // ログイン成功後に設定される。空の場合は未認証
}

// NewClient はClientの新しいインスタンスを生成する。
// limiterがnilの場合はレート制限なしで動作する。
func NewClient(httpClient *http.Client, endpoint string, logger *slog.Logger, limiter *rate.Limiter) *Client {
	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		logger:     logger,
		limiter:    limiter,
	}
}

// LoginWithTicket はキャッシュ済みチケットのみでセッションを再開する。
// チケットが失効している場合はmodel.ErrAuthExpiredを返す。
// 有効なチケットのトークンはそのままBearerトークンとして採用され、
// アップストリーム側での拒否は最初の認証付き呼び出しで
// model.ErrAuthExpiredとして検出される。認証情報の再送は行わない。
func (c *Client) LoginWithTicket(ctx context.Context, ticket *model.AuthTicket) error {
	if ticket == nil || !ticket.Valid(time.Now()) {
		return model.ErrAuthExpired
	}
	c.token = ticket.Token
	return nil
}

// Login はメールアドレス・パスワードで新規ログインし、発行されたチケットを返す。
// ログイン失敗時はmodel.ErrAuthFailedを返す。
// 呼び出し側（オーケストレータ）は、トークン値が実際に変化した場合のみ
// 患者レコードへのチケット書き戻しを行う責務を負う。
func (c *Client) Login(ctx context.Context, email, password string) (*model.AuthTicket, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
		}
	}

	payload, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("ログインリクエストの構築に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+loginPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ログインリクエストの作成に失敗しました: %w", err)
	}
	c.setCommonHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ログインリクエストの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: HTTPステータス %d", model.ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ログインAPIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("ログインレスポンスの読み取りに失敗しました: %w", err)
	}

	var wrapper apiResponse
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("ログインレスポンスのパースに失敗しました: %w", err)
	}
	if wrapper.Status != 0 {
		// status != 0 は認証情報の不一致等のAPIレベルの拒否
		return nil, fmt.Errorf("%w: APIステータス %d", model.ErrAuthFailed, wrapper.Status)
	}

	var data loginData
	if err := json.Unmarshal(wrapper.Data, &data); err != nil {
		return nil, fmt.Errorf("ログインレスポンスのdataのパースに失敗しました: %w", err)
	}
	if data.AuthTicket == nil || data.AuthTicket.Token == "" {
		return nil, fmt.Errorf("%w: レスポンスに認証チケットが含まれていません", model.ErrAuthFailed)
	}

	c.token = data.AuthTicket.Token

	return &model.AuthTicket{
		Token:    data.AuthTicket.Token,
		Expires:  data.AuthTicket.Expires,
		Duration: data.AuthTicket.Duration,
	}, nil
}

// FetchLatestGraph は患者の測定グラフを取得する。
// ログイン成功後にのみ呼び出せる。未認証の場合はmodel.ErrNotAuthenticatedを返す。
// アップストリームにグラフデータが存在しない場合は(nil, nil)を返す。
// これはエラーではなく正常な結果である。
func (c *Client) FetchLatestGraph(ctx context.Context, providerPatientID string) (*GraphInformation, error) {
	if c.token == "" {
		return nil, model.ErrNotAuthenticated
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
		}
	}

	url := c.endpoint + fmt.Sprintf(graphPathFormat, providerPatientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("グラフ取得リクエストの作成に失敗しました: %w", err)
	}
	c.setCommonHeaders(req)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("グラフ取得リクエストの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// 採用済みチケットのアップストリーム側での拒否
		return nil, fmt.Errorf("%w: HTTPステータス %d", model.ErrAuthExpired, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		// グラフデータなしは正常な結果
		c.logger.Info("アップストリームにグラフデータが存在しません",
			slog.String("provider_patient_id", providerPatientID),
		)
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("グラフ取得APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("グラフレスポンスの読み取りに失敗しました: %w", err)
	}

	var wrapper apiResponse
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("グラフレスポンスのパースに失敗しました: %w", err)
	}
	if wrapper.Status != 0 {
		return nil, fmt.Errorf("グラフ取得APIがAPIステータス %d を返しました", wrapper.Status)
	}
	if len(wrapper.Data) == 0 || string(wrapper.Data) == "null" {
		return nil, nil
	}

	var graph GraphInformation
	if err := json.Unmarshal(wrapper.Data, &graph); err != nil {
		return nil, fmt.Errorf("グラフレスポンスのdataのパースに失敗しました: %w", err)
	}

	return &graph, nil
}

// setCommonHeaders はLibreLink APIが要求する共通ヘッダーを設定する。
func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("product", productHeader)
	req.Header.Set("version", versionHeader)
	req.Header.Set("User-Agent", "GlucoSync/1.0 CGM Sync Engine")
}
