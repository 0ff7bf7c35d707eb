package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/juju/errors"

	"ailearning/client/internal/model"
)

func (c *Client) Login(ctx context.Context, email, password string) (model.LoginResult, error) {
	var out model.LoginResult
	err := c.do(ctx, http.MethodPost, "/auth/login", nil, map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return model.LoginResult{}, err
	}
	if out.Token == "" {
		return model.LoginResult{}, errors.NotValidf("login response without token")
	}
	return out, nil
}

// Logout revokes the credential. A refusal here does not fire the rejection hook:
// the caller is ending the session anyway.
func (c *Client) Logout(ctx context.Context) error {
	return c.send(ctx, false, http.MethodPost, "/auth/logout", nil, nil, nil)
}

func (c *Client) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	var out []model.Notification
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/notifications/mark-all-as-read", nil, nil, nil)
}

func (c *Client) ListProgress(ctx context.Context) ([]model.Progress, error) {
	var out []model.Progress
	if err := c.do(ctx, http.MethodGet, "/student/progress", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProgress returns nil without error when the server has no record yet.
func (c *Client) GetProgress(ctx context.Context, courseID string) (*model.Progress, error) {
	var out *model.Progress
	err := c.do(ctx, http.MethodGet, "/student/progress/"+url.PathEscape(courseID), nil, nil, &out)
	if errors.Is(err, errors.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CompleteLesson(ctx context.Context, courseID, lessonID string) (model.Progress, error) {
	query := url.Values{}
	query.Set("courseId", courseID)
	query.Set("lessonId", lessonID)
	var out model.Progress
	if err := c.do(ctx, http.MethodPost, "/student/progress/complete-lesson", query, struct{}{}, &out); err != nil {
		return model.Progress{}, err
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/wallet/balance", nil, nil, &out); err != nil {
		return 0, err
	}
	return decodeBalance(out)
}

// decodeBalance accepts a bare number or an envelope {"data": n} / {"balance": n}.
func decodeBalance(raw json.RawMessage) (float64, error) {
	var value float64
	if err := json.Unmarshal(raw, &value); err == nil {
		return value, nil
	}
	var envelope struct {
		Data    *float64 `json:"data"`
		Balance *float64 `json:"balance"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return 0, errors.NotValidf("balance payload %s", raw)
	}
	switch {
	case envelope.Data != nil:
		return *envelope.Data, nil
	case envelope.Balance != nil:
		return *envelope.Balance, nil
	}
	return 0, errors.NotValidf("balance payload %s", raw)
}

// TopUp starts a wallet top-up. The backend either credits the wallet inline
// (data holds the new balance) or hands back an external payment URL.
func (c *Client) TopUp(ctx context.Context, amount float64) (model.TopUpResult, error) {
	var out struct {
		Message     string          `json:"message"`
		Data        json.RawMessage `json:"data"`
		RedirectURL string          `json:"redirectUrl"`
		PaymentURL  string          `json:"paymentUrl"`
	}
	if err := c.do(ctx, http.MethodPost, "/wallet/top-up", nil, map[string]float64{"amount": amount}, &out); err != nil {
		return model.TopUpResult{}, err
	}
	result := model.TopUpResult{Message: out.Message, RedirectURL: out.RedirectURL}
	if result.RedirectURL == "" {
		result.RedirectURL = out.PaymentURL
	}
	if len(out.Data) > 0 && string(out.Data) != "null" {
		var text string
		if json.Unmarshal(out.Data, &text) == nil {
			if result.RedirectURL == "" {
				result.RedirectURL = text
			}
		} else {
			balance, err := decodeBalance(out.Data)
			if err != nil {
				return model.TopUpResult{}, errors.Trace(err)
			}
			result.Balance = &balance
		}
	}
	if result.Balance == nil && result.RedirectURL == "" {
		return model.TopUpResult{}, errors.NotValidf("top-up response without balance or redirect")
	}
	return result, nil
}

func (c *Client) Purchase(ctx context.Context, courseID string) (model.PurchaseResult, error) {
	var out struct {
		Message string `json:"message"`
		Data    *struct {
			Balance *float64 `json:"balance"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/student/purchase", nil, map[string]string{"courseId": courseID}, &out); err != nil {
		return model.PurchaseResult{}, err
	}
	result := model.PurchaseResult{Message: out.Message}
	if out.Data != nil {
		result.Balance = out.Data.Balance
	}
	return result, nil
}
