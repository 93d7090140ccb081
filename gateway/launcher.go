package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmora/kernelrun"
)

// Launcher starts kernels on a remote kernel server. Implements
// [kernelrun.Launcher].
type Launcher struct {
	base *url.URL
	opts launcherOptions
}

var _ kernelrun.Launcher = (*Launcher)(nil)

// NewLauncher builds a launcher against the server at baseURL, e.g.
// "http://gateway:8888".
func NewLauncher(baseURL string, opts ...Option) (*Launcher, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gateway: base url scheme must be http or https, got %q", base.Scheme)
	}
	return &Launcher{base: base, opts: resolveOptions(opts...)}, nil
}

// kernelModel is the server's kernel resource.
type kernelModel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// specsReply is the /api/kernelspecs response.
type specsReply struct {
	Default     string                `json:"default"`
	KernelSpecs map[string]specRecord `json:"kernelspecs"`
}

type specRecord struct {
	Name string `json:"name"`
	Spec struct {
		DisplayName string         `json:"display_name"`
		Language    string         `json:"language"`
		Metadata    map[string]any `json:"metadata"`
	} `json:"spec"`
}

// LookupSpec resolves name against the server's spec listing. An
// unknown name wraps [kernelrun.ErrSpecNotFound].
func (l *Launcher) LookupSpec(ctx context.Context, name string) (kernelrun.SpecInfo, error) {
	var reply specsReply
	if err := l.rest(ctx, http.MethodGet, "/api/kernelspecs", nil, &reply); err != nil {
		return kernelrun.SpecInfo{}, err
	}
	rec, ok := reply.KernelSpecs[name]
	if !ok {
		return kernelrun.SpecInfo{}, fmt.Errorf("%w: %q", kernelrun.ErrSpecNotFound, name)
	}
	return kernelrun.SpecInfo{
		Name:        name,
		DisplayName: rec.Spec.DisplayName,
		Language:    rec.Spec.Language,
		Metadata:    rec.Spec.Metadata,
	}, nil
}

// Launch starts a kernel on the server and connects its channel
// websocket.
func (l *Launcher) Launch(ctx context.Context, name string) (kernelrun.Connection, error) {
	var model kernelModel
	err := l.rest(ctx, http.MethodPost, "/api/kernels", map[string]string{"name": name}, &model)
	if err != nil {
		return nil, err
	}
	if model.ID == "" {
		return nil, fmt.Errorf("gateway: server returned no kernel id")
	}

	log := l.opts.logger.With().Str("component", "gateway").Str("kernel", name).Str("id", model.ID).Logger()
	conn, err := newConn(ctx, l, model.ID, log)
	if err != nil {
		// The kernel started; don't leak it when the websocket fails.
		dctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()
		if derr := l.rest(dctx, http.MethodDelete, "/api/kernels/"+model.ID, nil, nil); derr != nil {
			log.Debug().Err(derr).Msg("orphaned kernel cleanup failed")
		}
		return nil, err
	}
	return conn, nil
}

// rest performs one REST call against the server, decoding a JSON
// response into out when out is non-nil.
func (l *Launcher) rest(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, l.base.String()+path, reqBody)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	l.decorate(req.Header)

	resp, err := l.opts.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ServerError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(detail)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decorate stamps auth and custom headers onto h.
func (l *Launcher) decorate(h http.Header) {
	if l.opts.token != "" {
		h.Set("Authorization", "token "+l.opts.token)
	}
	for key, values := range l.opts.headers {
		for _, v := range values {
			h.Add(key, v)
		}
	}
}

// wsURL renders the channels websocket URL for a kernel id.
func (l *Launcher) wsURL(id string) string {
	u := *l.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/kernels/" + id + "/channels"
	return u.String()
}

// ServerError is a non-2xx answer from the kernel server.
type ServerError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("gateway: %s %s: status %d", e.Method, e.Path, e.StatusCode)
}
