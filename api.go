package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

//////////////////////////////////////////////////////////////
// EXTERNAL SERVICE CLIENTS
//////////////////////////////////////////////////////////////

// serviceError classifies a failed call against one of the backing APIs so
// the reply layer can pick the right apology.
type serviceError struct {
	kind   errKind
	status int
	err    error
}

type errKind int

const (
	errTimeout errKind = iota
	errHTTPStatus
	errUnreachable
	errBadPayload
)

func (e *serviceError) Error() string {
	switch e.kind {
	case errTimeout:
		return fmt.Sprintf("request timed out: %v", e.err)
	case errHTTPStatus:
		return fmt.Sprintf("unexpected status %d", e.status)
	case errUnreachable:
		return fmt.Sprintf("service unreachable: %v", e.err)
	default:
		return fmt.Sprintf("bad payload: %v", e.err)
	}
}

func (e *serviceError) Unwrap() error { return e.err }

// classifyTransportErr wraps an error from http.Client.Do. Timeouts are
// distinguished from everything else so the user hears a different apology.
func classifyTransportErr(err error) *serviceError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &serviceError{kind: errTimeout, err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &serviceError{kind: errTimeout, err: err}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return &serviceError{kind: errTimeout, err: err}
	}
	return &serviceError{kind: errUnreachable, err: err}
}

type apiClient struct {
	http *http.Client
	cfg  *Config
	rand *rand.Rand
}

func newAPIClient(cfg *Config) *apiClient {
	return &apiClient{
		http: &http.Client{},
		cfg:  cfg,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// getJSON issues a GET with query params and decodes the body into dst. The
// timeout comes from ctx; callers wrap with context.WithTimeout.
func (a *apiClient) getJSON(ctx context.Context, endpoint string, params url.Values, dst any) error {
	body, err := a.getBytes(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &serviceError{kind: errBadPayload, err: err}
	}
	return nil
}

func (a *apiClient) getBytes(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	u := endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &serviceError{kind: errUnreachable, err: err}
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &serviceError{kind: errHTTPStatus, status: resp.StatusCode}
	}
	return body, nil
}

type completionResponse struct {
	Status int    `json:"status"`
	Result string `json:"result"`
}

// Completion asks the model for a reply. sessionID keys the server-side
// conversation; imageURL is optional and stretches the timeout because
// vision calls run long.
func (a *apiClient) Completion(ctx context.Context, ask, sessionID, imageURL string) (string, error) {
	timeout := COMPLETION_TIMEOUT
	if imageURL != "" {
		timeout = COMPLETION_IMAGE_TIMEOUT
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := url.Values{"ask": {ask}, "sessionId": {sessionID}}
	if imageURL != "" {
		params.Set("imageUrl", imageURL)
	}
	var out completionResponse
	if err := a.getJSON(ctx, a.cfg.CompletionURL, params, &out); err != nil {
		return "", err
	}
	if out.Status != 200 || out.Result == "" {
		return "", &serviceError{kind: errBadPayload, err: fmt.Errorf("completion returned status %d", out.Status)}
	}
	return out.Result, nil
}

var ttsModels = []string{"onyx", "fable"}

// TTS renders text to speech and returns raw audio bytes. The voice model
// is picked at random per call.
func (a *apiClient) TTS(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, TTS_TIMEOUT)
	defer cancel()
	params := url.Values{
		"text":  {text},
		"model": {ttsModels[a.rand.Intn(len(ttsModels))]},
	}
	return a.getBytes(ctx, a.cfg.TTSURL, params)
}

type uploadResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// UploadFile rehosts a file on the public upload service and returns its
// URL. Used to hand media to the completion API, which only takes links.
func (a *apiClient) UploadFile(ctx context.Context, filename string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, UPLOAD_TIMEOUT)
	defer cancel()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", &serviceError{kind: errBadPayload, err: err}
	}
	if _, err := part.Write(data); err != nil {
		return "", &serviceError{kind: errBadPayload, err: err}
	}
	if err := w.Close(); err != nil {
		return "", &serviceError{kind: errBadPayload, err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.UploadURL, &buf)
	if err != nil {
		return "", &serviceError{kind: errUnreachable, err: err}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := a.http.Do(req)
	if err != nil {
		return "", classifyTransportErr(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &serviceError{kind: errHTTPStatus, status: resp.StatusCode}
	}
	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &serviceError{kind: errBadPayload, err: err}
	}
	if !out.Success || out.URL == "" {
		return "", &serviceError{kind: errBadPayload, err: errors.New("upload rejected")}
	}
	return out.URL, nil
}

// GenerateImage renders prompt to image bytes. size uses the generator's
// aspect ratio notation, e.g. "1_1" or "16_9".
func (a *apiClient) GenerateImage(ctx context.Context, prompt, size string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, TOOL_TIMEOUT)
	defer cancel()
	return a.getBytes(ctx, a.cfg.ImageGenURL, url.Values{"prompt": {prompt}, "size": {size}})
}

type chordResponse struct {
	Status int `json:"status"`
	Result struct {
		Title string `json:"title"`
		Chord string `json:"chord"`
	} `json:"result"`
}

// Chord looks up guitar chords for a song title.
func (a *apiClient) Chord(ctx context.Context, song string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, TOOL_TIMEOUT)
	defer cancel()
	var out chordResponse
	if err := a.getJSON(ctx, a.cfg.ChordURL, url.Values{"song": {song}}, &out); err != nil {
		return "", "", err
	}
	if out.Status != 200 || out.Result.Chord == "" {
		return "", "", &serviceError{kind: errBadPayload, err: fmt.Errorf("chord returned status %d", out.Status)}
	}
	return out.Result.Title, out.Result.Chord, nil
}

type holidayEntry struct {
	Date string `json:"date"`
	Day  string `json:"day"`
	Name string `json:"holiday"`
}

// Holidays lists national holidays for a year.
func (a *apiClient) Holidays(ctx context.Context, year int) ([]holidayEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, TOOL_TIMEOUT)
	defer cancel()
	var out struct {
		Status int            `json:"status"`
		Result []holidayEntry `json:"result"`
	}
	if err := a.getJSON(ctx, a.cfg.HolidayURL, url.Values{"year": {strconv.Itoa(year)}}, &out); err != nil {
		return nil, err
	}
	if out.Status != 200 {
		return nil, &serviceError{kind: errBadPayload, err: fmt.Errorf("holiday returned status %d", out.Status)}
	}
	return out.Result, nil
}

type tiktokResult struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	Duration      int    `json:"duration"`
	PlayCount     int64  `json:"playCount"`
	Likes         int64  `json:"likes"`
	Comments      int64  `json:"comments"`
	Shares        int64  `json:"shares"`
	OriginalSound struct {
		Title  string `json:"title"`
		Author string `json:"author"`
	} `json:"originalSound"`
	Media struct {
		VideoURL string `json:"videoUrl"`
	} `json:"media"`
}

// TikTok resolves a TikTok link to a direct video URL plus post metadata.
func (a *apiClient) TikTok(ctx context.Context, link string) (*tiktokResult, error) {
	ctx, cancel := context.WithTimeout(ctx, TOOL_TIMEOUT)
	defer cancel()
	var out struct {
		Status int          `json:"status"`
		Result tiktokResult `json:"result"`
	}
	if err := a.getJSON(ctx, a.cfg.TikTokURL, url.Values{"url": {link}}, &out); err != nil {
		return nil, err
	}
	if out.Status != 200 || out.Result.Media.VideoURL == "" {
		return nil, &serviceError{kind: errBadPayload, err: fmt.Errorf("tiktok returned status %d", out.Status)}
	}
	return &out.Result, nil
}

type igMediaItem struct {
	URL string `json:"url"`
}

// Instagram resolves an Instagram link to its media items. Carousels return
// more than one.
func (a *apiClient) Instagram(ctx context.Context, link string) ([]igMediaItem, error) {
	ctx, cancel := context.WithTimeout(ctx, TOOL_TIMEOUT)
	defer cancel()
	var out struct {
		Status int `json:"status"`
		Result struct {
			Status bool          `json:"status"`
			Data   []igMediaItem `json:"data"`
		} `json:"result"`
	}
	if err := a.getJSON(ctx, a.cfg.IGURL, url.Values{"url": {link}}, &out); err != nil {
		return nil, err
	}
	if out.Status != 200 || !out.Result.Status || len(out.Result.Data) == 0 {
		return nil, &serviceError{kind: errBadPayload, err: fmt.Errorf("instagram returned status %d", out.Status)}
	}
	return out.Result.Data, nil
}

// FakeImageCheck runs the AI-or-real classifier against a hosted image URL
// and returns the verdict text.
func (a *apiClient) FakeImageCheck(ctx context.Context, imageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, COMPLETION_TIMEOUT)
	defer cancel()
	var out struct {
		Status int `json:"status"`
		Result struct {
			Answer string `json:"answer"`
		} `json:"result"`
	}
	if err := a.getJSON(ctx, a.cfg.FakeImageURL, url.Values{"imageUrl": {imageURL}}, &out); err != nil {
		return "", err
	}
	if out.Status != 200 || out.Result.Answer == "" {
		return "", &serviceError{kind: errBadPayload, err: fmt.Errorf("detector returned status %d", out.Status)}
	}
	return out.Result.Answer, nil
}

type faceScanResult struct {
	Gender      string `json:"gender"`
	Age         string `json:"age"`
	Expression  string `json:"expression"`
	FaceShape   string `json:"faceShape"`
	BeautyScore string `json:"beautyScore"`
}

// FaceScan analyzes a face in a hosted image URL.
func (a *apiClient) FaceScan(ctx context.Context, imageURL string) (*faceScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, COMPLETION_TIMEOUT)
	defer cancel()
	var out struct {
		Status int            `json:"status"`
		Result faceScanResult `json:"result"`
	}
	if err := a.getJSON(ctx, a.cfg.FaceScanURL, url.Values{"imageUrl": {imageURL}}, &out); err != nil {
		return nil, err
	}
	if out.Status != 200 {
		return nil, &serviceError{kind: errBadPayload, err: fmt.Errorf("face scan returned status %d", out.Status)}
	}
	return &out.Result, nil
}

type bankAccountInfo struct {
	AccountNumber string `json:"account_number"`
	Name          string `json:"name"`
	BankCode      string `json:"bank_code"`
}

// BankLookup resolves an account or e-wallet number to its holder name.
func (a *apiClient) BankLookup(ctx context.Context, number, bank string) (*bankAccountInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, COMPLETION_TIMEOUT)
	defer cancel()
	var out struct {
		Status int `json:"status"`
		Result struct {
			Status bool            `json:"status"`
			Data   bankAccountInfo `json:"data"`
		} `json:"result"`
	}
	if err := a.getJSON(ctx, a.cfg.BankURL, url.Values{"number": {number}, "bank": {bank}}, &out); err != nil {
		return nil, err
	}
	if out.Status != 200 || !out.Result.Status {
		return nil, &serviceError{kind: errBadPayload, err: fmt.Errorf("bank lookup returned status %d", out.Status)}
	}
	return &out.Result.Data, nil
}

// DownloadURL fetches arbitrary bytes, used for resolved video links.
func (a *apiClient) DownloadURL(ctx context.Context, link string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, TOOL_TIMEOUT)
	defer cancel()
	return a.getBytes(ctx, link, nil)
}
