// Package ingest replenishes inventory from CSV drops in an inbox
// directory. Files are scanned on a fixed interval, applied line by
// line, and renamed with a processed suffix; the rename is the only
// guard against reprocessing.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/daniel-vizcarra/IntegraHub/model"
	"github.com/daniel-vizcarra/IntegraHub/notify"
	"github.com/daniel-vizcarra/IntegraHub/store"
)

const pendingExtension = ".csv"

type Options struct {
	InboxDir        string
	ProcessedSuffix string
	Interval        time.Duration
}

// SkippedLine records a line that was not applied, and why. Skipped
// lines never abort the enclosing file.
type SkippedLine struct {
	Line    int
	Content string
	Reason  string
}

// FileReport summarizes one processed file.
type FileReport struct {
	Path    string
	Applied int
	Skipped []SkippedLine
}

type IService interface {
	Run(ctx context.Context)
	ScanOnce(ctx context.Context) error
	ProcessFile(ctx context.Context, path string) (FileReport, error)
}

func NewService(inventory store.IInventoryRepo, notifier notify.INotifier, opts Options, logger *zap.Logger) IService {
	return &service{
		inventory: inventory,
		notifier:  notifier,
		opts:      opts,
		logger:    logger,
	}
}

type service struct {
	inventory store.IInventoryRepo
	notifier  notify.INotifier
	opts      Options
	logger    *zap.Logger
}

// Run polls the inbox until ctx is cancelled. The file in flight when
// cancellation arrives is finished before returning.
func (s *service) Run(ctx context.Context) {
	if err := os.MkdirAll(s.opts.InboxDir, 0o755); err != nil {
		s.logger.Error("creating inbox directory failed", zap.String("dir", s.opts.InboxDir), zap.Error(err))
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info("file ingester started",
		zap.String("inbox", s.opts.InboxDir),
		zap.Duration("interval", s.opts.Interval),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("file ingester stopped")
			return
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				s.logger.Error("inbox scan failed", zap.Error(err))
			}
		}
	}
}

// ScanOnce processes every pending file currently in the inbox, one
// file fully at a time.
func (s *service) ScanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(s.opts.InboxDir)
	if err != nil {
		return fmt.Errorf("read inbox %s: %w", s.opts.InboxDir, err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), pendingExtension) {
			continue
		}

		path := filepath.Join(s.opts.InboxDir, entry.Name())
		report, err := s.ProcessFile(ctx, path)
		if err != nil {
			s.logger.Error("processing restock file failed", zap.String("file", path), zap.Error(err))
			continue
		}
		s.logger.Info("restock file processed",
			zap.String("file", path),
			zap.Int("applied", report.Applied),
			zap.Int("skipped", len(report.Skipped)),
		)
	}
	return nil
}

// ProcessFile applies every valid product_id,quantity line and renames
// the file with the processed suffix. Only the validation class of
// failures (bad syntax, unknown product, non-positive quantity) is
// skipped; a store error aborts the file without the rename so the
// remaining deltas are retried on the next scan. A crash between the
// last applied line and the rename re-applies the file on restart;
// that window is the accepted at-least-once trade-off.
func (s *service) ProcessFile(ctx context.Context, path string) (FileReport, error) {
	report := FileReport{Path: path}

	f, err := os.Open(path)
	if err != nil {
		return report, fmt.Errorf("open %s: %w", path, err)
	}

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		record, reason := parseLine(line)
		if reason != "" {
			report.Skipped = append(report.Skipped, SkippedLine{Line: lineNum, Content: line, Reason: reason})
			continue
		}

		level, err := s.inventory.AdjustStock(ctx, record.ProductID, record.QuantityDelta)
		if errors.Is(err, store.ErrNotFound) {
			report.Skipped = append(report.Skipped, SkippedLine{Line: lineNum, Content: line, Reason: "unknown product"})
			continue
		}
		if err != nil {
			// Transient store failure, not a bad line: leave the file
			// pending so the unapplied deltas survive.
			_ = f.Close()
			return report, fmt.Errorf("apply line %d of %s: %w", lineNum, path, err)
		}
		report.Applied++

		s.maybeNotifyRestockCleared(ctx, record.ProductID, level)
	}
	scanErr := scanner.Err()
	_ = f.Close()
	if scanErr != nil {
		return report, fmt.Errorf("read %s: %w", path, scanErr)
	}

	for _, skipped := range report.Skipped {
		s.logger.Warn("restock line skipped",
			zap.String("file", path),
			zap.Int("line", skipped.Line),
			zap.String("content", skipped.Content),
			zap.String("reason", skipped.Reason),
		)
	}

	processedPath := path + s.opts.ProcessedSuffix
	if err := os.Rename(path, processedPath); err != nil {
		return report, fmt.Errorf("mark %s processed: %w", path, err)
	}
	return report, nil
}

// restockRecord is the ephemeral form of one CSV line.
type restockRecord struct {
	ProductID     int64
	QuantityDelta int
}

func parseLine(line string) (restockRecord, string) {
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return restockRecord{}, "fewer than 2 columns"
	}

	productID, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return restockRecord{}, "non-numeric product id"
	}
	quantity, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return restockRecord{}, "non-numeric quantity"
	}
	if quantity <= 0 {
		return restockRecord{}, "quantity must be positive"
	}
	return restockRecord{ProductID: productID, QuantityDelta: quantity}, ""
}

// maybeNotifyRestockCleared alerts when this restock lifts stock back
// over the reorder threshold. Transition-triggered only; a level held
// above or below the threshold never re-alerts.
func (s *service) maybeNotifyRestockCleared(ctx context.Context, productID int64, level model.StockLevel) {
	product, err := s.inventory.GetProduct(ctx, productID)
	if err != nil {
		s.logger.Warn("reading product after restock failed", zap.Int64("product_id", productID), zap.Error(err))
		return
	}

	if level.CrossedAbove(product.ReorderThreshold) {
		s.notifier.Notify(ctx, model.Alert{
			Kind:        model.AlertLowStock,
			ReferenceID: product.ID,
			Message: fmt.Sprintf("product %q restocked to %d, clearing reorder threshold %d",
				product.Name, level.After, product.ReorderThreshold),
		})
	}
}
