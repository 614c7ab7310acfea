package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/theoren0108/TweetDigest/pkg/config"
	errs "github.com/theoren0108/TweetDigest/pkg/errors"
	"github.com/theoren0108/TweetDigest/pkg/logger"
	"github.com/theoren0108/TweetDigest/pkg/retry"
)

// DefaultBaseURL is the Feishu open platform root
const DefaultBaseURL = "https://open.feishu.cn"

// blockBatchSize is the most children one append call accepts
const blockBatchSize = 50

// Feishu error codes meaning the tenant token is missing, expired or invalid
var invalidTokenCodes = map[int]bool{
	99991661: true,
	99991663: true,
	99991664: true,
	99991668: true,
}

// Result identifies the published document
type Result struct {
	URL        string
	DocumentID string
}

// Publisher ships a rendered digest somewhere readers can find it
type Publisher interface {
	Publish(ctx context.Context, title, markdown string) (Result, error)
}

// Feishu publishes digests as Feishu docx documents and announces them in a chat
type Feishu struct {
	httpClient  *http.Client
	baseURL     string
	appID       string
	appSecret   string
	chatID      string
	folderToken string
	session     *Session
	now         func() time.Time
	retry       *retry.Config
	logger      logger.Logger
}

// NewFeishu creates a Feishu publisher with its own token session
func NewFeishu(cfg config.FeishuConfig, log logger.Logger) (*Feishu, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, errs.New(errs.ErrorTypeConfig, "feishu app_id and app_secret are required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	rc := retry.DefaultConfig()
	rc.Logger = log

	return &Feishu{
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		baseURL:     baseURL,
		appID:       cfg.AppID,
		appSecret:   cfg.AppSecret,
		chatID:      cfg.ChatID,
		folderToken: cfg.FolderToken,
		session:     &Session{},
		now:         time.Now,
		retry:       rc,
		logger:      log,
	}, nil
}

// SetClock replaces the clock used for token expiry
func (f *Feishu) SetClock(now func() time.Time) {
	f.now = now
}

// SetRetry replaces the retry policy
func (f *Feishu) SetRetry(cfg *retry.Config) {
	f.retry = cfg
}

// Publish creates the document, shares it with the chat and posts the link
func (f *Feishu) Publish(ctx context.Context, title, markdown string) (Result, error) {
	docID, docURL, err := f.createDocument(ctx, title)
	if err != nil {
		return Result{}, fmt.Errorf("create document: %w", err)
	}
	log := f.logger.WithField("document_id", docID)

	if f.chatID != "" {
		if err := f.addChatMember(ctx, docID); err != nil {
			log.WithError(err).Warn("Failed to add chat as document member")
		}
	}

	blocks, err := f.convertMarkdown(ctx, markdown)
	if err != nil {
		log.WithError(err).Warn("Markdown conversion failed, using plain text blocks")
		blocks = PlainBlocks(markdown)
	}
	if err := f.appendBlocks(ctx, docID, blocks); err != nil {
		return Result{DocumentID: docID, URL: docURL}, fmt.Errorf("append blocks: %w", err)
	}

	shareURL, err := f.shareWithTenant(ctx, docID)
	if err != nil {
		log.WithError(err).Warn("Failed to set tenant share link")
	}

	link := docURL
	if link == "" {
		link = shareURL
	}
	if link == "" {
		link = "https://www.feishu.cn/docx/" + docID
	}
	res := Result{URL: link, DocumentID: docID}

	if f.chatID != "" {
		if err := f.SendText(ctx, title+"\n"+link); err != nil {
			return res, fmt.Errorf("send message: %w", err)
		}
	}

	log.InfoWithFields("Digest published", map[string]interface{}{
		"url":    link,
		"blocks": len(blocks),
	})
	return res, nil
}

// SendText posts a text message to the configured chat
func (f *Feishu) SendText(ctx context.Context, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	payload := map[string]any{
		"receive_id": f.chatID,
		"msg_type":   "text",
		"content":    string(content),
	}
	return f.call(ctx, http.MethodPost, "/open-apis/im/v1/messages?receive_id_type=chat_id", payload, nil)
}

func (f *Feishu) createDocument(ctx context.Context, title string) (string, string, error) {
	payload := map[string]any{"title": title}
	if f.folderToken != "" {
		payload["folder_token"] = f.folderToken
	}

	var data struct {
		Document struct {
			DocumentID string `json:"document_id"`
			URL        string `json:"url"`
		} `json:"document"`
		DocumentID string `json:"document_id"`
	}
	err := f.call(ctx, http.MethodPost, "/open-apis/docx/v1/documents", payload, &data)
	if err != nil && f.folderToken != "" && strings.Contains(strings.ToLower(err.Error()), "folder not found") {
		f.logger.WithError(err).Warn("Configured folder not found, creating document in the app root")
		delete(payload, "folder_token")
		err = f.call(ctx, http.MethodPost, "/open-apis/docx/v1/documents", payload, &data)
	}
	if err != nil {
		return "", "", err
	}

	id := data.Document.DocumentID
	if id == "" {
		id = data.DocumentID
	}
	if id == "" {
		return "", "", errs.New(errs.ErrorTypeMalformedRecord, "create response has no document_id")
	}
	return id, data.Document.URL, nil
}

func (f *Feishu) addChatMember(ctx context.Context, docID string) error {
	payload := map[string]any{
		"member_type": "openchat",
		"member_id":   f.chatID,
		"perm":        "view",
	}
	path := fmt.Sprintf("/open-apis/drive/v1/permissions/%s/members?type=docx", url.PathEscape(docID))
	return f.call(ctx, http.MethodPost, path, payload, nil)
}

func (f *Feishu) convertMarkdown(ctx context.Context, markdown string) ([]json.RawMessage, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}
	payload := map[string]any{
		"source_content": markdown,
		"content_type":   "markdown",
	}
	var data struct {
		Blocks   []json.RawMessage `json:"blocks"`
		Children []json.RawMessage `json:"children"`
	}
	if err := f.call(ctx, http.MethodPost, "/open-apis/docx/v1/document/convert", payload, &data); err != nil {
		return nil, err
	}
	blocks := data.Blocks
	if blocks == nil {
		blocks = data.Children
	}
	if blocks == nil {
		return nil, errs.New(errs.ErrorTypeMalformedRecord, "convert response has no blocks")
	}
	return blocks, nil
}

// PlainBlocks turns markdown into one text block per line
func PlainBlocks(markdown string) []json.RawMessage {
	lines := strings.Split(strings.TrimRight(markdown, "\n"), "\n")
	blocks := make([]json.RawMessage, 0, len(lines))
	for _, line := range lines {
		content := strings.TrimRight(line, " \t\r")
		if content == "" {
			content = " "
		}
		block, _ := json.Marshal(map[string]any{
			"block_type": 2,
			"text": map[string]any{
				"elements": []any{
					map[string]any{"text_run": map[string]string{"content": content}},
				},
			},
		})
		blocks = append(blocks, block)
	}
	return blocks
}

func (f *Feishu) appendBlocks(ctx context.Context, docID string, blocks []json.RawMessage) error {
	path := fmt.Sprintf("/open-apis/docx/v1/documents/%s/blocks/%s/children",
		url.PathEscape(docID), url.PathEscape(docID))
	for start := 0; start < len(blocks); start += blockBatchSize {
		end := min(start+blockBatchSize, len(blocks))
		payload := map[string]any{"children": blocks[start:end], "index": -1}
		if err := f.call(ctx, http.MethodPost, path, payload, nil); err != nil {
			return fmt.Errorf("batch at %d: %w", start, err)
		}
	}
	return nil
}

func (f *Feishu) shareWithTenant(ctx context.Context, docID string) (string, error) {
	path := fmt.Sprintf("/open-apis/drive/v2/permissions/%s/public?type=docx", url.PathEscape(docID))
	payload := map[string]any{
		"external_access_entity": "closed",
		"security_entity":        "anyone_can_view",
		"comment_entity":         "anyone_can_view",
		"share_entity":           "same_tenant",
		"link_share_entity":      "tenant_readable",
	}
	var data struct {
		ShareURL string `json:"share_url"`
	}
	if err := f.call(ctx, http.MethodPatch, path, payload, &data); err != nil {
		return "", err
	}
	if data.ShareURL != "" {
		return data.ShareURL, nil
	}
	if err := f.call(ctx, http.MethodGet, path, nil, &data); err != nil {
		return "", err
	}
	return data.ShareURL, nil
}

// tenantToken returns the cached token or fetches a new one
func (f *Feishu) tenantToken(ctx context.Context) (string, error) {
	if token, ok := f.session.Valid(f.now()); ok {
		return token, nil
	}

	payload := map[string]string{"app_id": f.appID, "app_secret": f.appSecret}
	var resp struct {
		envelope
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := f.do(ctx, http.MethodPost, "/open-apis/auth/v3/tenant_access_token/internal", "", payload, &resp); err != nil {
		return "", fmt.Errorf("tenant token: %w", err)
	}
	if err := resp.check("tenant token"); err != nil {
		return "", err
	}
	if resp.TenantAccessToken == "" {
		return "", errs.New(errs.ErrorTypeAuth, "tenant token response has no token")
	}
	expire := time.Duration(resp.Expire) * time.Second
	if expire <= 0 {
		expire = 2 * time.Hour
	}
	f.session.Set(resp.TenantAccessToken, expire, f.now())
	return resp.TenantAccessToken, nil
}

type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e envelope) check(op string) error {
	if e.Code == 0 {
		return nil
	}
	t := errs.ErrorTypeUnknown
	if invalidTokenCodes[e.Code] {
		t = errs.ErrorTypeAuth
	}
	return &errs.Error{Type: t, Op: op, Code: e.Code, Message: e.Msg}
}

type dataEnvelope struct {
	envelope
	Data json.RawMessage `json:"data"`
}

// call performs an authenticated API call. An auth failure drops the cached
// token and the call is repeated once with a fresh one.
func (f *Feishu) call(ctx context.Context, method, path string, payload, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := f.tenantToken(ctx)
		if err != nil {
			return err
		}

		var resp dataEnvelope
		err = f.do(ctx, method, path, token, payload, &resp)
		if err == nil {
			err = resp.check(method + " " + path)
		}
		if err != nil {
			if attempt == 0 && errs.TypeOf(err) == errs.ErrorTypeAuth {
				f.logger.Debug("Tenant token rejected, refreshing")
				f.session.Invalidate()
				continue
			}
			return err
		}

		if out != nil && len(resp.Data) > 0 && string(resp.Data) != "null" {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return errs.Wrap(errs.ErrorTypeMalformedRecord, "decode "+path, err)
			}
		}
		return nil
	}
}

// do sends one request with retries for transient failures and decodes the
// JSON body into out. HTTP errors carry the API message.
func (f *Feishu) do(ctx context.Context, method, path, token string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}
	endpoint := f.baseURL + path

	return retry.Do(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return errs.Wrap(errs.ErrorTypeUnknown, "build request", err)
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		start := time.Now()
		resp, err := f.httpClient.Do(req)
		if err != nil {
			logger.LogRequest(f.logger, method, endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errs.Wrap(errs.ErrorTypeTransient, method+" "+path, err)
		}
		defer resp.Body.Close()
		logger.LogRequest(f.logger, method, endpoint, resp.StatusCode, time.Since(start))

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return errs.Wrap(errs.ErrorTypeTransient, "read response", err)
		}
		if resp.StatusCode >= 400 {
			var env envelope
			msg := string(data)
			if json.Unmarshal(data, &env) == nil && env.Msg != "" {
				msg = env.Msg
			}
			t := errs.FromStatusCode(resp.StatusCode)
			if invalidTokenCodes[env.Code] {
				t = errs.ErrorTypeAuth
			}
			return &errs.Error{Type: t, Code: resp.StatusCode, Op: method + " " + path, Message: msg}
		}
		if err := json.Unmarshal(data, out); err != nil {
			return errs.Wrap(errs.ErrorTypeMalformedRecord, "decode "+path, err)
		}
		return nil
	}, f.retry)
}
