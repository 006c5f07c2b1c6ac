package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"phasegate/internal/config"
	"phasegate/internal/domain"
	"phasegate/internal/engine"
	"phasegate/internal/logging"
	"phasegate/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type hookKey struct {
	project string
	idx     int
}

// WebhookDispatcher delivers audit events to the webhooks configured for each project.
type WebhookDispatcher struct {
	engine   engine.Engine
	log      *zap.Logger
	client   *http.Client
	interval time.Duration
	mu       sync.Mutex
	cursors  map[hookKey]int64
}

func NewWebhookDispatcher(e engine.Engine, log *zap.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		engine:   e,
		log:      logging.OrNop(log),
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		interval: defaultWebhookInterval,
		cursors:  make(map[hookKey]int64),
	}
}

// Run polls for new events until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll delivers pending events of every project once.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	projects, err := d.engine.Repo.ListProjects(ctx)
	if err != nil {
		d.log.Warn("webhook: list projects failed", zap.Error(err))
		return
	}
	for _, p := range projects {
		cfg, err := d.engine.Repo.GetProjectConfig(ctx, p.ID)
		if err != nil {
			continue
		}
		for i, hook := range cfg.Webhooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.URL) == "" {
				continue
			}
			d.dispatchWebhook(ctx, hookKey{project: p.ID, idx: i}, hook)
		}
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, key hookKey, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, key)
	events, err := d.engine.Repo.EventsAfter(ctx, repo.EventFilter{ProjectID: key.project, After: cursor, Limit: defaultWebhookBatch})
	if err != nil {
		d.log.Warn("webhook: fetch events failed", zap.String("project_id", key.project), zap.Error(err))
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(key, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.log.Warn("webhook: delivery failed", zap.String("project_id", key.project), zap.String("url", hook.URL), zap.Error(err))
			return
		}
		d.setCursor(key, evt.ID)
	}
}

// cursorFor starts a new hook at the latest event so history is not replayed.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, key hookKey) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[key]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(ctx, key.project)
	if err != nil {
		d.log.Warn("webhook: init cursor failed", zap.String("project_id", key.project), zap.Error(err))
		cur = 0
	}
	d.cursors[key] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(key hookKey, value int64) {
	d.mu.Lock()
	d.cursors[key] = value
	d.mu.Unlock()
}

// signature is the hex HMAC-SHA256 of body keyed by the hook secret.
func signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	data, err := json.Marshal(eventResponse(evt))
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Phasegate-Event", evt.Type)
	req.Header.Set("X-Phasegate-Delivery", strconv.FormatInt(evt.ID, 10))
	req.Header.Set("X-Phasegate-Project", evt.ProjectID)
	if secret := strings.TrimSpace(hook.Secret); secret != "" {
		req.Header.Set("X-Phasegate-Signature", signature(secret, data))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", hook.URL, res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// eventFilter matches exact event types and "prefix.*" patterns. An empty
// filter matches everything.
type eventFilter struct {
	exact    map[string]bool
	prefixes []string
}

func newEventFilter(events []string) eventFilter {
	f := eventFilter{exact: map[string]bool{}}
	for _, evt := range events {
		evt = strings.TrimSpace(evt)
		switch {
		case evt == "":
		case strings.HasSuffix(evt, ".*"):
			f.prefixes = append(f.prefixes, strings.TrimSuffix(evt, "*"))
		default:
			f.exact[evt] = true
		}
	}
	return f
}

func (f eventFilter) match(evt string) bool {
	if len(f.exact) == 0 && len(f.prefixes) == 0 {
		return true
	}
	if f.exact[evt] {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(evt, p) {
			return true
		}
	}
	return false
}
