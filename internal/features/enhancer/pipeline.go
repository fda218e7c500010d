package enhancer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "enhancer-bot-backend/internal/common/errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FileResolver resolves a chat-platform file id to a fetchable URL.
type FileResolver interface {
	GetFileURL(ctx context.Context, fileID string) (string, error)
}

// Result is the outcome of a successful enhancement job.
type Result struct {
	Data      []byte
	SourceURL string
	ResultURL string
}

// apiResponse is the enhancer's JSON body. Different deployments name the
// result field differently, so all known spellings are accepted.
type apiResponse struct {
	Status      string `json:"status"`
	Image       string `json:"image"`
	URL         string `json:"url"`
	DownloadURL string `json:"download_url"`
}

func (r *apiResponse) resultURL() string {
	switch {
	case r.Image != "":
		return r.Image
	case r.URL != "":
		return r.URL
	default:
		return r.DownloadURL
	}
}

// Pipeline runs one enhancement job: resolve the submitted asset, call the
// external enhancer, fetch the result bytes. Single-shot: each stage maps
// to one typed error and nothing is retried or cached.
type Pipeline struct {
	resolver   FileResolver
	httpClient *http.Client
	endpoint   string
}

func NewPipeline(resolver FileResolver, endpoint string, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pipeline{
		resolver: resolver,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: endpoint,
	}
}

// Process enhances the asset behind fileID. Errors are *AppError with one
// of SERVICE_UNREACHABLE, PROCESSING_FAILED or RESULT_FETCH_FAILED for the
// pipeline stages, or TELEGRAM_API_ERROR when the source asset cannot be
// resolved.
func (p *Pipeline) Process(ctx context.Context, fileID string) (*Result, error) {
	jobID := uuid.NewString()
	logger := log.With().Str("job_id", jobID).Logger()

	sourceURL, err := p.resolver.GetFileURL(ctx, fileID)
	if err != nil {
		logger.Error().Err(err).Str("file_id", fileID).Msg("failed to resolve source asset")
		return nil, apperrors.NewTelegramAPIError("getFile", err)
	}
	logger.Debug().Str("source_url", sourceURL).Msg("source asset resolved")

	resp, err := p.callEnhancer(ctx, sourceURL)
	if err != nil {
		logger.Error().Err(err).Msg("enhancer unreachable")
		return nil, err
	}

	if resp.Status != "success" {
		logger.Warn().Str("status", resp.Status).Msg("enhancer reported failure")
		return nil, apperrors.New(apperrors.ErrCodeProcessingFailed, "enhancement failed").
			WithDetail("status", resp.Status)
	}

	resultURL := resp.resultURL()
	if resultURL == "" {
		logger.Warn().Msg("enhancer success without result url")
		return nil, apperrors.New(apperrors.ErrCodeProcessingFailed, "enhancer returned no result URL")
	}

	data, err := p.fetchResult(ctx, resultURL)
	if err != nil {
		logger.Error().Err(err).Str("result_url", resultURL).Msg("result fetch failed")
		return nil, err
	}

	logger.Info().Int("bytes", len(data)).Msg("enhancement complete")

	return &Result{
		Data:      data,
		SourceURL: sourceURL,
		ResultURL: resultURL,
	}, nil
}

func (p *Pipeline) callEnhancer(ctx context.Context, sourceURL string) (*apiResponse, error) {
	endpoint := fmt.Sprintf("%s?url=%s", p.endpoint, url.QueryEscape(sourceURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeServiceUnreachable, "failed to build enhancer request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeServiceUnreachable, "enhancer request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.ErrCodeServiceUnreachable, "enhancer returned non-OK status").
			WithDetail("status_code", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeServiceUnreachable, "failed to read enhancer response")
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeProcessingFailed, "failed to parse enhancer response")
	}

	return &parsed, nil
}

func (p *Pipeline) fetchResult(ctx context.Context, resultURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeResultFetchFailed, "failed to build result request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeResultFetchFailed, "result fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.ErrCodeResultFetchFailed, "result fetch returned non-OK status").
			WithDetail("status_code", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeResultFetchFailed, "failed to read result body")
	}

	return data, nil
}
