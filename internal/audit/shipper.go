// Package audit - shipper.go routes committed audit records to external
// destinations (syslog, webhook, file) so they can feed a SIEM or log
// aggregator independently of the application's own logging pipeline.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"log/syslog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tickhole/tickhole/internal/db/models"
)

// Shipper defines the interface for audit record shipping
type Shipper interface {
	// Ship sends an audit record to the destination
	Ship(ctx context.Context, log *models.AuditLog) error
	// Close cleans up any resources
	Close() error
}

// ShipperConfig holds configuration for one audit shipper destination
type ShipperConfig struct {
	// Enabled determines if this shipper is active
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// Type is the shipper type (syslog, webhook, file)
	Type string `json:"type" mapstructure:"type"`
	// Syslog configuration
	Syslog *SyslogConfig `json:"syslog,omitempty" mapstructure:"syslog"`
	// Webhook configuration
	Webhook *WebhookConfig `json:"webhook,omitempty" mapstructure:"webhook"`
	// File configuration
	File *FileConfig `json:"file,omitempty" mapstructure:"file"`
}

// SyslogConfig holds syslog shipper configuration
type SyslogConfig struct {
	// Network is the dial network ("udp", "tcp"); empty means the local
	// syslog socket
	Network string `json:"network,omitempty" mapstructure:"network"`
	// Address is the remote syslog address (host:port); empty with an empty
	// Network means local syslog
	Address string `json:"address,omitempty" mapstructure:"address"`
	// Tag is the syslog tag; defaults to "tickhole-audit"
	Tag string `json:"tag,omitempty" mapstructure:"tag"`
}

// WebhookConfig holds webhook shipper configuration
type WebhookConfig struct {
	// URL is the webhook endpoint
	URL string `json:"url" mapstructure:"url"`
	// Headers are additional HTTP headers to send
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	// Timeout is the HTTP request timeout
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// BatchSize is how many records to batch before sending (0 = no batching)
	BatchSize int `json:"batch_size" mapstructure:"batch_size"`
	// FlushInterval is how often to flush batched records
	FlushInterval time.Duration `json:"flush_interval" mapstructure:"flush_interval"`
}

// FileConfig holds file shipper configuration
type FileConfig struct {
	// Path is the audit file path
	Path string `json:"path" mapstructure:"path"`
	// MaxSizeMB is the maximum file size before rotation
	MaxSizeMB int `json:"max_size_mb" mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup files to keep
	MaxBackups int `json:"max_backups" mapstructure:"max_backups"`
}

// MultiShipper fans each record out to every configured destination
type MultiShipper struct {
	shippers []Shipper
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewMultiShipper creates a multi-shipper from configs
func NewMultiShipper(configs []ShipperConfig, logger *slog.Logger) (*MultiShipper, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ms := &MultiShipper{
		shippers: make([]Shipper, 0),
		logger:   logger,
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "syslog":
			if cfg.Syslog == nil {
				cfg.Syslog = &SyslogConfig{}
			}
			shipper, err = NewSyslogShipper(cfg.Syslog)
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Ship sends a record to all configured shippers. A failing destination does
// not block the others.
func (ms *MultiShipper) Ship(ctx context.Context, log *models.AuditLog) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, log); err != nil {
			lastErr = err
			ms.logger.Warn("audit shipper error", "error", err)
		}
	}
	return lastErr
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// SyslogShipper writes audit records to a local or remote syslog daemon
type SyslogShipper struct {
	writer *syslog.Writer
	mu     sync.Mutex
}

// NewSyslogShipper connects to syslog per the config. With an empty network
// and address it talks to the local syslog socket.
func NewSyslogShipper(cfg *SyslogConfig) (*SyslogShipper, error) {
	tag := cfg.Tag
	if tag == "" {
		tag = "tickhole-audit"
	}

	writer, err := syslog.Dial(cfg.Network, cfg.Address, syslog.LOG_INFO|syslog.LOG_AUTH, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}

	return &SyslogShipper{writer: writer}, nil
}

// Ship sends a record as one JSON line. Records carrying a suspicion score go
// out at warning severity so downstream filters can key on severity without
// parsing the payload.
func (ss *SyslogShipper) Ship(ctx context.Context, log *models.AuditLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if log.SuspicionScore > 0 {
		return ss.writer.Warning(string(data))
	}
	return ss.writer.Info(string(data))
}

// Close closes the syslog connection
func (ss *SyslogShipper) Close() error {
	return ss.writer.Close()
}

// WebhookShipper ships audit records to a webhook
type WebhookShipper struct {
	cfg       *WebhookConfig
	client    *http.Client
	batchCh   chan *models.AuditLog
	batch     []*models.AuditLog
	batchMu   sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a new webhook shipper
func NewWebhookShipper(cfg *WebhookConfig) (*WebhookShipper, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ws := &WebhookShipper{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		batchCh: make(chan *models.AuditLog, 1000),
		batch:   make([]*models.AuditLog, 0),
		closeCh: make(chan struct{}),
	}

	// Start batch processor if batching is enabled
	if cfg.BatchSize > 0 {
		go ws.processBatches()
	}

	return ws, nil
}

// processBatches handles batched sending
func (ws *WebhookShipper) processBatches() {
	flushInterval := ws.cfg.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case log := <-ws.batchCh:
			ws.batchMu.Lock()
			ws.batch = append(ws.batch, log)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ticker.C:
			ws.batchMu.Lock()
			if len(ws.batch) > 0 {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ws.closeCh:
			// Flush remaining
			ws.batchMu.Lock()
			if len(ws.batch) > 0 {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
			return
		}
	}
}

// flushBatch sends the current batch. Caller holds batchMu.
func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}

	data, err := json.Marshal(ws.batch)
	if err != nil {
		slog.Warn("failed to marshal audit batch", "error", err)
		ws.batch = ws.batch[:0]
		return
	}

	timeout := ws.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := ws.sendRequest(ctx, data); err != nil {
		slog.Warn("failed to send audit batch", "error", err)
	}

	ws.batch = ws.batch[:0]
}

// Ship sends a record to the webhook
func (ws *WebhookShipper) Ship(ctx context.Context, log *models.AuditLog) error {
	// If batching is enabled, queue the record
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- log:
			return nil
		default:
			// Channel full, send directly
		}
	}

	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	return ws.sendRequest(ctx, data)
}

// sendRequest sends the HTTP request
func (ws *WebhookShipper) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Close closes the webhook shipper
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	return nil
}

// FileShipper appends audit records to a JSON-lines file
type FileShipper struct {
	cfg  *FileConfig
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper creates a new file shipper
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	return &FileShipper{
		cfg:  cfg,
		file: file,
	}, nil
}

// Ship writes a record to the file
func (fs *FileShipper) Ship(ctx context.Context, log *models.AuditLog) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Check file size for rotation
	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				slog.Warn("failed to rotate audit file", "error", err)
			}
		}
	}

	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}

	return nil
}

// rotate rotates the audit file. Caller holds mu.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	// Shift existing backups up by one
	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", fs.cfg.Path, i)
		newPath := fmt.Sprintf("%s.%d", fs.cfg.Path, i+1)
		_ = os.Rename(oldPath, newPath)
	}

	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")

	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	fs.file = file
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
