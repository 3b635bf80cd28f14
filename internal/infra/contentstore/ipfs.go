package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"decertify/internal/domain"
)

// IPFS pushes documents through the Kubo HTTP RPC API. Content ids are
// CIDv1 so identical bytes always map to the same id.
type IPFS struct {
	client *resty.Client
}

type ipfsAddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

func NewIPFS(apiURL string, timeout time.Duration) (*IPFS, error) {
	apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if apiURL == "" {
		return nil, errors.New("ipfs api url is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	return &IPFS{client: client}, nil
}

func (s *IPFS) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("content is empty")
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"cid-version": "1",
			"pin":         "true",
		}).
		SetFileReader("file", "document", bytes.NewReader(data)).
		Post("/api/v0/add")
	if err != nil {
		return "", transportError("ipfs add", err)
	}
	if resp.IsError() {
		return "", classifyStatus(resp.StatusCode(), resp.String())
	}
	var out ipfsAddResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("%w: decode ipfs add response: %v", domain.ErrStoreUnavailable, err)
	}
	if out.Hash == "" {
		return "", fmt.Errorf("%w: ipfs add returned no hash", domain.ErrStoreUnavailable)
	}
	return out.Hash, nil
}

func (s *IPFS) Get(ctx context.Context, contentID string) ([]byte, error) {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return nil, domain.ErrNotFound
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("arg", contentID).
		Post("/api/v0/cat")
	if err != nil {
		return nil, transportError("ipfs cat", err)
	}
	if resp.IsError() {
		return nil, classifyStatus(resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}
