package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultCloudinaryURL = "https://api.cloudinary.com"

// CloudinaryConfig configures unsigned uploads.
type CloudinaryConfig struct {
	CloudName    string
	UploadPreset string
	APIKey       string
	// BaseURL overrides the API origin.
	BaseURL  string
	MaxBytes int64
	Timeout  time.Duration
}

// CloudinaryUploader posts files to the Cloudinary auto-upload endpoint.
type CloudinaryUploader struct {
	cfg    CloudinaryConfig
	client *fasthttp.Client
	logger *slog.Logger
}

// CloudinaryOption configures a CloudinaryUploader.
type CloudinaryOption func(*CloudinaryUploader)

// WithHTTPClient replaces the fasthttp client.
func WithHTTPClient(c *fasthttp.Client) CloudinaryOption {
	return func(u *CloudinaryUploader) { u.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CloudinaryOption {
	return func(u *CloudinaryUploader) {
		if l != nil {
			u.logger = l
		}
	}
}

// NewCloudinaryUploader creates an uploader.
func NewCloudinaryUploader(cfg CloudinaryConfig, opts ...CloudinaryOption) *CloudinaryUploader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCloudinaryURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	u := &CloudinaryUploader{
		cfg:    cfg,
		client: &fasthttp.Client{Name: "chatsync"},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	Bytes     int64  `json:"bytes"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload sends f and returns its secure URL.
func (u *CloudinaryUploader) Upload(ctx context.Context, f File) (Result, error) {
	if err := checkSize(f, u.cfg.MaxBytes); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	body, contentType, err := u.form(f)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	endpoint := fmt.Sprintf("%s/v1_1/%s/auto/upload", strings.TrimRight(u.cfg.BaseURL, "/"), u.cfg.CloudName)
	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(contentType)
	req.SetBody(body)

	deadline := time.Now().Add(u.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := u.client.DoDeadline(req, resp, deadline); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	var out cloudinaryResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil && resp.StatusCode() == fasthttp.StatusOK {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrUploadFailed, err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		msg := fasthttp.StatusMessage(resp.StatusCode())
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		u.logger.Warn("cloudinary upload rejected",
			"file", f.Name,
			"status", resp.StatusCode(),
			"message", msg)
		return Result{}, fmt.Errorf("%w: cloudinary: %s", ErrUploadFailed, msg)
	}
	if out.SecureURL == "" {
		return Result{}, fmt.Errorf("%w: cloudinary returned no secure_url", ErrUploadFailed)
	}

	size := out.Bytes
	if size == 0 {
		size = int64(len(f.Data))
	}
	return Result{SecureURL: out.SecureURL, Kind: DetectKind(f), Size: size}, nil
}

func (u *CloudinaryUploader) form(f File) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", f.Name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("upload_preset", u.cfg.UploadPreset); err != nil {
		return nil, "", err
	}
	if u.cfg.APIKey != "" {
		if err := w.WriteField("api_key", u.cfg.APIKey); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
