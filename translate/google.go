package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultEndpoint = "https://translation.googleapis.com/language/translate/v2"

// Google talks to the Cloud Translation v2 REST API.
type Google struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewGoogle creates a client. An empty endpoint uses DefaultEndpoint and a
// nil client gets one with the given timeout.
func NewGoogle(endpoint, apiKey string, client *http.Client, timeout time.Duration) *Google {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Google{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   client,
	}
}

type detectResponse struct {
	Data struct {
		Detections [][]struct {
			Language   string  `json:"language"`
			Confidence float64 `json:"confidence"`
		} `json:"detections"`
	} `json:"data"`
}

type translateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage"`
		} `json:"translations"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DetectLanguage returns the language code Google considers most likely.
func (g *Google) DetectLanguage(ctx context.Context, text string) (string, error) {
	var resp detectResponse
	if err := g.post(ctx, "detect", g.endpoint+"/detect", map[string]string{"q": text}, &resp); err != nil {
		return "", err
	}
	if len(resp.Data.Detections) == 0 || len(resp.Data.Detections[0]) == 0 {
		return "", &Error{Op: "detect", Err: errors.New("response has no detections")}
	}
	lang := resp.Data.Detections[0][0].Language
	if lang == "" || lang == "und" {
		return "", &Error{Op: "detect", Permanent: true, Err: errors.New("language could not be determined")}
	}
	return lang, nil
}

// Translate translates text into target as plain text.
func (g *Google) Translate(ctx context.Context, text, target string) (string, error) {
	req := map[string]string{"q": text, "target": target, "format": "text"}
	var resp translateResponse
	if err := g.post(ctx, "translate", g.endpoint, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Data.Translations) == 0 {
		return "", &Error{Op: "translate", Err: errors.New("response has no translations")}
	}
	return resp.Data.Translations[0].TranslatedText, nil
}

func (g *Google) post(ctx context.Context, op, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Op: op, Permanent: true, Err: err}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return &Error{Op: op, Permanent: true, Err: fmt.Errorf("invalid endpoint: %w", err)}
	}
	q := u.Query()
	q.Set("key", g.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return &Error{Op: op, Permanent: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return ctxErr
		}
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return &Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Permanent:  permanentStatus(resp.StatusCode),
			Err:        errors.New(msg),
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}
