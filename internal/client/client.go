// Package client 是 CivicVoice REST API 的类型化 Go 客户端，供 civicctl 与集成测试使用。
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"civicvoice/internal/model"

	json "github.com/goccy/go-json"
)

// APIError 表示服务端返回的非 2xx 响应。
type APIError struct {
	Status     int               `json:"-"`
	Message    string            `json:"error"`
	Fields     map[string]string `json:"fields,omitempty"`
	RetryAfter int               `json:"retry_after,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for k, v := range e.Fields {
			parts = append(parts, k+": "+v)
		}
		return fmt.Sprintf("civicvoice: %d %s (%s)", e.Status, e.Message, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("civicvoice: %d %s", e.Status, e.Message)
}

// StatusOf 返回 err 中的 HTTP 状态码，非 APIError 时返回 0。
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Session 登录或激活后得到的会话。
type Session struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// Feedback 提交反馈的请求体。
type Feedback struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Service  string `json:"service"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
	Region   string `json:"region"`
	Priority string `json:"priority,omitempty"`
}

// ListOptions 反馈列表查询参数，零值表示不限制。
type ListOptions struct {
	Page    int
	Limit   int
	Status  model.FeedbackStatus
	Service string
	Region  string
}

// FeedbackPage 反馈分页结果。
type FeedbackPage struct {
	Items []model.Feedback `json:"items"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// Stats 仪表盘统计。
type Stats struct {
	Total         int64                          `json:"total"`
	ByStatus      map[model.FeedbackStatus]int64 `json:"by_status"`
	AverageRating float64                        `json:"average_rating"`
}

// Dashboard 仪表盘响应。
type Dashboard struct {
	Scope  string           `json:"scope"`
	Stats  Stats            `json:"stats"`
	Recent []model.Feedback `json:"recent"`
}

// Contact 联系表单。
type Contact struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Option 配置 Client。
type Option func(*Client)

// WithHTTPClient 替换底层 http.Client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken 设置请求携带的 Bearer 令牌。
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// Client 封装对 API 的调用。不可并发修改 token。
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New 创建客户端，baseURL 形如 http://localhost:8080。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token 返回当前令牌。
func (c *Client) Token() string { return c.token }

// SetToken 替换当前令牌。
func (c *Client) SetToken(token string) { c.token = token }

// Register 注册新账号，成功后验证码会发送到邮箱。
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	body := map[string]string{"name": name, "email": email, "password": password}
	return c.do(ctx, http.MethodPost, "/api/auth/register", body, nil)
}

// Activate 用验证码激活账号，成功后客户端会保存返回的令牌。
func (c *Client) Activate(ctx context.Context, email, otp string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/activate", map[string]string{"email": email, "otp": otp}, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

// Signin 登录，成功后客户端会保存返回的令牌。
func (c *Client) Signin(ctx context.Context, email, password string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", map[string]string{"email": email, "password": password}, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

func (c *Client) ResendOTP(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/resend-otp", map[string]string{"email": email}, nil)
}

func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var out struct {
		User model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Logout 吊销当前令牌并清空本地令牌。
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.token = ""
	return err
}

func (c *Client) Services(ctx context.Context) ([]model.Service, error) {
	var out struct {
		Services []model.Service `json:"services"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/services", nil, &out); err != nil {
		return nil, err
	}
	return out.Services, nil
}

// SubmitFeedback 提交反馈（不带附件），返回新反馈的 ID。
func (c *Client) SubmitFeedback(ctx context.Context, fb Feedback) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/feedback", fb, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) ListFeedback(ctx context.Context, opts ListOptions) (*FeedbackPage, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Service != "" {
		q.Set("service", opts.Service)
	}
	if opts.Region != "" {
		q.Set("region", opts.Region)
	}
	path := "/api/feedback"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out FeedbackPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetFeedbackStatus 修改反馈状态，需要管理员令牌。
func (c *Client) SetFeedbackStatus(ctx context.Context, id string, status model.FeedbackStatus) (*model.Feedback, error) {
	var out struct {
		Feedback model.Feedback `json:"feedback"`
	}
	path := "/api/feedback/" + url.PathEscape(id) + "/status"
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"status": string(status)}, &out); err != nil {
		return nil, err
	}
	return &out.Feedback, nil
}

func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	var out Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/dashboard", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Contact(ctx context.Context, msg Contact) error {
	return c.do(ctx, http.MethodPost, "/api/contact", msg, nil)
}

// Health 检查 /healthz，503 时返回 APIError。
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// UploadAvatar 上传头像（png/jpeg/gif/webp），返回头像路径与携带新头像的令牌，
// 客户端会保存新令牌。
func (c *Client) UploadAvatar(ctx context.Context, filename string, r io.Reader) (string, error) {
	body, contentType, err := multipartBody(nil, "avatar", filename, r)
	if err != nil {
		return "", err
	}
	var out struct {
		Avatar string `json:"avatar"`
		Token  string `json:"token"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/auth/avatar", body, contentType, &out); err != nil {
		return "", err
	}
	if out.Token != "" {
		c.token = out.Token
	}
	return out.Avatar, nil
}

// SubmitFeedbackWithAttachment 以 multipart 表单提交反馈并附带图片或 PDF。
func (c *Client) SubmitFeedbackWithAttachment(ctx context.Context, fb Feedback, filename string, r io.Reader) (string, error) {
	fields := map[string]string{
		"name":    fb.Name,
		"email":   fb.Email,
		"service": fb.Service,
		"rating":  strconv.Itoa(fb.Rating),
		"comment": fb.Comment,
		"region":  fb.Region,
	}
	if fb.Priority != "" {
		fields["priority"] = fb.Priority
	}
	body, contentType, err := multipartBody(fields, "attachment", filename, r)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/feedback", body, contentType, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// multipartBody 将表单字段与一个文件写入内存中的 multipart 请求体。
func multipartBody(fields map[string]string, fileField, filename string, r io.Reader) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	fw, err := mw.CreateFormFile(fileField, filepath.Base(filename))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, "", fmt.Errorf("copy file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, body, contentType, out)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if len(data) > 0 && json.Unmarshal(data, apiErr) == nil && apiErr.Message != "" {
			return apiErr
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
