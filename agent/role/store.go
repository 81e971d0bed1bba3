package role

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

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

const (
	defaultStoreKeyPrefix = "chative:role:"
	redisReplyLimit       = 2 << 20
)

// Store persists role snapshots between process restarts.
type Store interface {
	Load(ctx context.Context, id string) (*Role, error)
	Save(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
}

// StoreOption customizes UpstashStore.
type StoreOption func(*UpstashStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.keyPrefix = p
		}
	}
}

// WithTTL expires snapshots after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashStore) { s.ttl = ttl }
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashStore) {
		if client != nil {
			s.redis.http = client
		}
	}
}

// UpstashConfig is read from UPSTASH_REDIS_*.
type UpstashConfig struct {
	URL     string        `envconfig:"URL" required:"true"`
	Token   string        `envconfig:"TOKEN" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

// RedisError is an error reply from the Upstash REST endpoint.
type RedisError struct {
	Message string
}

func (e *RedisError) Error() string { return "upstash redis: " + e.Message }

// redisREST sends single commands to the Upstash REST endpoint as JSON arrays.
type redisREST struct {
	endpoint string
	token    string
	http     *http.Client
}

func (c *redisREST) do(ctx context.Context, args ...any) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %v command: %w", args[0], err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new upstash request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstash %v: %w", args[0], err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, redisReplyLimit))
	if err != nil {
		return nil, fmt.Errorf("read upstash reply: %w", err)
	}

	var reply struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	decodeErr := json.Unmarshal(raw, &reply)
	switch {
	case decodeErr == nil && reply.Error != "":
		return nil, &RedisError{Message: reply.Error}
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("upstash %v: status %d: %s", args[0], resp.StatusCode, bytes.TrimSpace(raw))
	case decodeErr != nil:
		return nil, fmt.Errorf("decode upstash reply: %w", decodeErr)
	}
	return bytes.TrimSpace(reply.Result), nil
}

// UpstashStore keeps one JSON snapshot per role under keyPrefix+id.
type UpstashStore struct {
	redis     redisREST
	keyPrefix string
	ttl       time.Duration
}

func NewUpstashStore(cfg UpstashConfig, opts ...StoreOption) (*UpstashStore, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	switch {
	case endpoint == "":
		return nil, fmt.Errorf("%w: upstash redis url is required", contractx.ErrValidation)
	case strings.TrimSpace(cfg.Token) == "":
		return nil, fmt.Errorf("%w: upstash redis token is required", contractx.ErrValidation)
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("%w: upstash redis url: %v", contractx.ErrValidation, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	s := &UpstashStore{
		redis: redisREST{
			endpoint: endpoint,
			token:    strings.TrimSpace(cfg.Token),
			http:     &http.Client{Timeout: cfg.Timeout},
		},
		keyPrefix: defaultStoreKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.ttl < 0 {
		return nil, fmt.Errorf("%w: ttl must be >= 0", contractx.ErrValidation)
	}
	return s, nil
}

func (s *UpstashStore) Load(ctx context.Context, id string) (*Role, error) {
	key, err := s.redisKey(id)
	if err != nil {
		return nil, err
	}
	result, err := s.redis.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, fmt.Errorf("%w: %s", contractx.ErrRoleNotFound, id)
	}

	// GET returns the stored JSON document as a JSON string.
	var doc string
	if err := json.Unmarshal(result, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot of %s: %w", id, err)
	}
	var role Role
	if err := json.Unmarshal([]byte(doc), &role); err != nil {
		return nil, fmt.Errorf("decode snapshot of %s: %w", id, err)
	}
	if role.ID != id {
		return nil, fmt.Errorf("%w: stored role id %q does not match %q", contractx.ErrValidation, role.ID, id)
	}
	return &role, nil
}

func (s *UpstashStore) Save(ctx context.Context, role *Role) error {
	if role == nil {
		return fmt.Errorf("%w: role is nil", contractx.ErrValidation)
	}
	key, err := s.redisKey(role.ID)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(role)
	if err != nil {
		return fmt.Errorf("encode snapshot of %s: %w", role.ID, err)
	}

	args := []any{"SET", key, string(doc)}
	if s.ttl > 0 {
		args = append(args, "PX", max(s.ttl.Milliseconds(), 1))
	}
	_, err = s.redis.do(ctx, args...)
	return err
}

func (s *UpstashStore) Delete(ctx context.Context, id string) error {
	key, err := s.redisKey(id)
	if err != nil {
		return err
	}
	_, err = s.redis.do(ctx, "DEL", key)
	return err
}

func (s *UpstashStore) redisKey(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: role id is empty", contractx.ErrValidation)
	}
	if s.keyPrefix == "" {
		return defaultStoreKeyPrefix + id, nil
	}
	return s.keyPrefix + id, nil
}
