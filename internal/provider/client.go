// Package provider implements the HTTP client for the remote TTS API.
//
// The client translates HTTP outcomes into the core error kinds so callers can
// decide what to retry: 401/403 become core.ErrAuth, 404 becomes
// core.ErrNotFound, 408/429/5xx and network failures become core.ErrTransient,
// and any other rejection becomes core.ErrSubmission carrying the provider's
// message.
package provider

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

	"github.com/book-expert/tts-proxy/internal/core"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"golang.org/x/time/rate"
)

// Static errors.
var (
	ErrUsernameEmpty = fmt.Errorf("%w: username cannot be empty", core.ErrValidation)
	ErrPasswordEmpty = fmt.Errorf("%w: password cannot be empty", core.ErrValidation)
)

// API endpoints and paths.
const (
	apiLogin     = "/login"
	apiSearch    = "/v1/weights/search"
	apiInference = "/tts/inference"
	apiJobPrefix = "/tts/job/"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
	sessionCookieName   = "session"
	ttsWeightCategory   = "text_to_speech"
	maxErrorBodyBytes   = 4096
)

// Error messages.
const (
	errFmtRequestFailed     = "request to %s failed: %w"
	errFmtDecodeFailed      = "failed to decode %s response: %w"
	errFmtProviderStatus    = "%w: %s returned %s: %s"
	errFmtProviderRejected  = "%w: %s: %s"
	errMissingSessionCookie = "login response did not set a session cookie"
	errMissingJobToken      = "inference response carried no job token"
	errMissingState         = "job response carried no state"
)

// Client talks to the remote TTS provider. It is safe for concurrent use;
// outbound requests share one rate limiter.
type Client struct {
	httpClient *http.Client
	audio      *httpkit.Client
	limiter    *rate.Limiter
	baseURL    string
}

// NewClient creates a provider client. baseURL includes the scheme, e.g.
// "https://api.example.com". A non-positive requestsPerSecond disables
// rate limiting.
func NewClient(baseURL string, timeout time.Duration, requestsPerSecond float64, burst int) *Client {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		audio:      httpkit.New(timeout),
		limiter:    rate.NewLimiter(limit, max(burst, 1)),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type loginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

type envelope struct {
	Success      bool   `json:"success"`
	ErrorReason  string `json:"error_reason,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (e envelope) message() string {
	if e.ErrorReason != "" {
		return e.ErrorReason
	}

	if e.ErrorMessage != "" {
		return e.ErrorMessage
	}

	return "no reason given"
}

type searchRequest struct {
	SearchTerm     string `json:"search_term"`
	WeightCategory string `json:"weight_category"`
}

type searchResponse struct {
	envelope

	Weights []struct {
		WeightToken string `json:"weight_token"`
		Title       string `json:"title"`
		Creator     struct {
			DisplayName string `json:"display_name"`
		} `json:"creator"`
	} `json:"weights"`
}

type inferenceResponse struct {
	envelope

	InferenceJobToken string `json:"inference_job_token"`
}

type jobResponse struct {
	envelope

	State *struct {
		Status          string `json:"status"`
		LegacyAudioPath string `json:"maybe_public_bucket_wav_audio_path"`
		MaybeResult     *struct {
			MediaLinks struct {
				CDNURL string `json:"cdn_url"`
			} `json:"media_links"`
		} `json:"maybe_result"`
	} `json:"state"`
}

// Authenticate logs in with a username or email and password and returns the
// session cookie as a credential.
func (c *Client) Authenticate(ctx context.Context, username, password string) (core.Credential, error) {
	if strings.TrimSpace(username) == "" {
		return core.Credential{}, ErrUsernameEmpty
	}

	if password == "" {
		return core.Credential{}, ErrPasswordEmpty
	}

	body := loginRequest{UsernameOrEmail: username, Password: password}

	resp, err := c.do(ctx, http.MethodPost, apiLogin, body, core.Credential{})
	if err != nil {
		if errors.Is(err, core.ErrSubmission) {
			return core.Credential{}, fmt.Errorf("%w: %w", core.ErrAuth, err)
		}

		return core.Credential{}, err
	}
	defer resp.Body.Close()

	var result envelope

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return core.Credential{}, fmt.Errorf("%w: "+errFmtDecodeFailed, core.ErrAuth, apiLogin, err)
	}

	if !result.Success {
		return core.Credential{}, fmt.Errorf(errFmtProviderRejected, core.ErrAuth, apiLogin, result.message())
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			return core.Credential{
				Kind:       core.CredentialCookie,
				Value:      cookie.Value,
				AcquiredAt: time.Now().UTC(),
			}, nil
		}
	}

	return core.Credential{}, fmt.Errorf("%w: %s", core.ErrAuth, errMissingSessionCookie)
}

// SearchModels returns the voice models whose metadata matches term.
func (c *Client) SearchModels(ctx context.Context, term string) ([]core.VoiceModel, error) {
	body := searchRequest{SearchTerm: term, WeightCategory: ttsWeightCategory}

	resp, err := c.do(ctx, http.MethodPost, apiSearch, body, core.Credential{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result searchResponse

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodeFailed, apiSearch, err)
	}

	if !result.Success {
		return nil, fmt.Errorf(errFmtProviderRejected, core.ErrSubmission, apiSearch, result.message())
	}

	models := make([]core.VoiceModel, 0, len(result.Weights))
	for _, weight := range result.Weights {
		models = append(models, core.VoiceModel{
			Token:      weight.WeightToken,
			Title:      weight.Title,
			SearchText: strings.TrimSpace(weight.Title + " " + weight.Creator.DisplayName),
		})
	}

	return models, nil
}

// CreateInference submits a generation request and returns the job token.
func (c *Client) CreateInference(
	ctx context.Context,
	cred core.Credential,
	req core.InferenceRequest,
) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, apiInference, req, cred)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result inferenceResponse

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return "", fmt.Errorf(errFmtDecodeFailed, apiInference, err)
	}

	if !result.Success {
		return "", fmt.Errorf(errFmtProviderRejected, core.ErrSubmission, apiInference, result.message())
	}

	if result.InferenceJobToken == "" {
		return "", fmt.Errorf("%w: %s", core.ErrSubmission, errMissingJobToken)
	}

	return result.InferenceJobToken, nil
}

// JobState reads the current state of a job.
func (c *Client) JobState(ctx context.Context, cred core.Credential, jobToken string) (core.InferenceState, error) {
	path := apiJobPrefix + url.PathEscape(jobToken)

	resp, err := c.do(ctx, http.MethodGet, path, nil, cred)
	if err != nil {
		return core.InferenceState{}, err
	}
	defer resp.Body.Close()

	var result jobResponse

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return core.InferenceState{}, fmt.Errorf(errFmtDecodeFailed, apiJobPrefix, err)
	}

	if !result.Success {
		return core.InferenceState{}, fmt.Errorf(errFmtProviderRejected, core.ErrSubmission, apiJobPrefix, result.message())
	}

	if result.State == nil {
		return core.InferenceState{}, fmt.Errorf("%w: %s", core.ErrTransient, errMissingState)
	}

	state := core.InferenceState{
		Status:          result.State.Status,
		LegacyAudioPath: result.State.LegacyAudioPath,
	}

	if result.State.MaybeResult != nil {
		state.CDNAudioPath = result.State.MaybeResult.MediaLinks.CDNURL
	}

	return state, nil
}

// FetchAudio downloads the generated audio. The download client retries on
// its own.
func (c *Client) FetchAudio(ctx context.Context, audioURL string) ([]byte, error) {
	err := c.limiter.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	data, err := c.audio.FetchBytes(ctx, audioURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch audio: %w", core.ErrTransient, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: received empty audio data", core.ErrTransient)
	}

	return data, nil
}

// do sends one JSON request and returns the response when the status is 2xx.
// Non-2xx responses are closed and converted into a classified error.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	payload any,
	cred core.Credential,
) (*http.Response, error) {
	err := c.limiter.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var reader io.Reader = http.NoBody
	if payload != nil {
		encoded, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", marshalErr)
		}

		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerAccept, contentTypeJSON)

	if payload != nil {
		httpReq.Header.Set(headerContentType, contentTypeJSON)
	}

	attachCredential(httpReq, cred)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf(errFmtRequestFailed, path, err)
		}

		return nil, fmt.Errorf("%w: "+errFmtRequestFailed, core.ErrTransient, path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		return nil, parseErrorResponse(path, resp)
	}

	return resp, nil
}

func attachCredential(req *http.Request, cred core.Credential) {
	if cred.IsZero() {
		return
	}

	switch cred.Kind {
	case core.CredentialBearer:
		req.Header.Set(headerAuthorization, bearerPrefix+cred.Value)
	case core.CredentialCookie:
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: cred.Value})
	}
}

// parseErrorResponse keeps the provider's message when the body is the usual
// JSON envelope and falls back to the raw body otherwise.
func parseErrorResponse(path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	message := strings.TrimSpace(string(raw))

	var parsed envelope
	if json.Unmarshal(raw, &parsed) == nil && (parsed.ErrorReason != "" || parsed.ErrorMessage != "") {
		message = parsed.message()
	}

	return fmt.Errorf(errFmtProviderStatus, classifyStatus(resp.StatusCode), path, resp.Status, message)
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return core.ErrAuth
	case code == http.StatusNotFound:
		return core.ErrNotFound
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return core.ErrTransient
	default:
		return core.ErrSubmission
	}
}
