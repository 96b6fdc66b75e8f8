package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrPlaybackDecode = errors.New("playback: cannot decode audio payload")

const maxFetchBytes = 16 << 20

// Clip is decoded audio ready for the sink.
type Clip struct {
	Data        []byte
	ContentType string
}

// Decoder turns a reply's audio payload into a clip. Payloads are either
// base64 (bare or as a data: URI) or an http(s) URL to fetch.
type Decoder struct {
	Client  *http.Client
	Timeout time.Duration
}

func (d Decoder) Decode(ctx context.Context, payload string) (Clip, error) {
	payload = strings.TrimSpace(payload)
	switch {
	case payload == "":
		return Clip{}, fmt.Errorf("%w: empty payload", ErrPlaybackDecode)
	case strings.HasPrefix(payload, "http://"), strings.HasPrefix(payload, "https://"):
		return d.fetch(ctx, payload)
	case strings.HasPrefix(payload, "data:"):
		return decodeDataURI(payload)
	}
	return decodeBase64(payload, "")
}

func decodeDataURI(uri string) (Clip, error) {
	meta, body, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return Clip{}, fmt.Errorf("%w: unsupported data URI", ErrPlaybackDecode)
	}
	return decodeBase64(body, strings.TrimSuffix(meta, ";base64"))
}

func decodeBase64(s, contentType string) (Clip, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return Clip{}, fmt.Errorf("%w: %v", ErrPlaybackDecode, err)
		}
	}
	if len(raw) == 0 {
		return Clip{}, fmt.Errorf("%w: no audio bytes", ErrPlaybackDecode)
	}
	if contentType == "" {
		contentType = http.DetectContentType(raw)
	}
	return Clip{Data: raw, ContentType: contentType}, nil
}

func (d Decoder) fetch(ctx context.Context, url string) (Clip, error) {
	hc := d.Client
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrPlaybackDecode, err)
	}
	req.Header.Set("Accept", "audio/*")

	resp, err := hc.Do(req)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: fetch %s: %v", ErrPlaybackDecode, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Clip{}, fmt.Errorf("%w: fetch %s: status %d", ErrPlaybackDecode, url, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return Clip{}, fmt.Errorf("%w: read %s: %v", ErrPlaybackDecode, url, err)
	}
	if len(raw) == 0 {
		return Clip{}, fmt.Errorf("%w: %s returned no audio", ErrPlaybackDecode, url)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(raw)
	}
	return Clip{Data: raw, ContentType: ct}, nil
}
