package plastiscan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/ecocollect/plastiscan/pkg/plastiscan/catalog"
	"github.com/ecocollect/plastiscan/pkg/plastiscan/scanner"
)

const (
	scanTopic            = "plastiscan.scans"
	scanOutputBufferSize = 16

	minSuggestionQueryLen = 4
)

type scanMessage struct {
	Text      string    `json:"text"`
	ScannedAt time.Time `json:"scanned_at"`
}

// scanEvents hands decoded codes off the engine's goroutine and resolves them
// against the catalog in a consumer of its own
type scanEvents struct {
	logger   *zap.SugaredLogger
	pubSub   *gochannel.GoChannel
	catalog  *catalog.Catalog
	notifier Notifier

	// handled, when set, is called once each scan message has been resolved and notified
	handled func(text string, item catalog.Item, found bool)
}

func newScanEvents(logger *zap.SugaredLogger, items *catalog.Catalog, notifier Notifier) *scanEvents {
	logger = logger.Named("scan_events")

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: scanOutputBufferSize},
		newWatermillLogger(logger),
	)

	se := &scanEvents{
		logger:   logger,
		pubSub:   pubSub,
		catalog:  items,
		notifier: notifier,
	}

	logger.Debug("Created scan events instance")
	return se
}

// publish is the scanner controller's consumer
func (se *scanEvents) publish(result scanner.DecodedResult) {
	payload, err := json.Marshal(scanMessage{Text: result.Text, ScannedAt: result.At})
	if err != nil {
		se.logger.Warnw("Failed to marshal scan message", "error", err)
		return
	}

	if err := se.pubSub.Publish(scanTopic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		se.logger.Warnw("Failed to publish scan message", "text", result.Text, "error", err)
	}
}

// consume subscribes to decoded scans until ctx is done or the pub/sub is closed
func (se *scanEvents) consume(ctx context.Context) error {
	messages, err := se.pubSub.Subscribe(ctx, scanTopic)
	if err != nil {
		return fmt.Errorf("subscribe to scans: %w", err)
	}

	go func() {
		for msg := range messages {
			se.processMessage(msg)
		}
		se.logger.Debug("Scan consumer stopped")
	}()

	return nil
}

func (se *scanEvents) processMessage(msg *message.Message) {
	// nothing to retry in-process, malformed messages are dropped
	defer msg.Ack()

	var scan scanMessage
	if err := json.Unmarshal(msg.Payload, &scan); err != nil {
		se.logger.Warnw("Failed to unmarshal scan message", "uuid", msg.UUID, "error", err)
		return
	}

	item, found := se.catalog.Find(scan.Text)
	if found {
		se.logger.Infow("Scanned tracked item", "item", item, "scannedAt", scan.ScannedAt)
		se.notifier.Notify("QR Code Scanned!", fmt.Sprintf("Scanned: %s\n%s, %.2f kg, %s\n%s",
			scan.Text, item.Type, item.WeightKg, item.Status, item.Location.Address))
	} else {
		se.logger.Infow("Scanned unknown code", "text", scan.Text, "scannedAt", scan.ScannedAt)

		body := fmt.Sprintf("Scanned: %s\nThis code isn't tracked yet.", scan.Text)
		if suggestion, ok := se.closestMatch(scan.Text); ok {
			body += fmt.Sprintf(" Did you mean %s?", suggestion.QRCode)
		}
		se.notifier.Notify("QR Code Scanned!", body)
	}

	if se.handled != nil {
		se.handled(scan.Text, item, found)
	}
}

// closestMatch finds the single tracked item a partially read code could belong to
func (se *scanEvents) closestMatch(text string) (catalog.Item, bool) {
	if len(text) < minSuggestionQueryLen {
		return catalog.Item{}, false
	}

	matches := se.catalog.Search(text)
	if len(matches) != 1 {
		return catalog.Item{}, false
	}
	return matches[0], true
}

func (se *scanEvents) close() error {
	if err := se.pubSub.Close(); err != nil {
		return fmt.Errorf("close scan pub/sub: %w", err)
	}
	return nil
}

// watermillLogger routes watermill's logs into zap
type watermillLogger struct {
	logger *zap.SugaredLogger
}

func newWatermillLogger(logger *zap.SugaredLogger) watermill.LoggerAdapter {
	return &watermillLogger{logger: logger.Named("watermill")}
}

func (wl *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	wl.logger.With(flatten(fields)...).Errorw(msg, "error", err)
}

func (wl *watermillLogger) Info(msg string, fields watermill.LogFields) {
	wl.logger.Debugw(msg, flatten(fields)...)
}

func (wl *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	wl.logger.Debugw(msg, flatten(fields)...)
}

func (wl *watermillLogger) Trace(msg string, fields watermill.LogFields) {}

func (wl *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: wl.logger.With(flatten(fields)...)}
}

func flatten(fields watermill.LogFields) []interface{} {
	keysAndValues := make([]interface{}, 0, len(fields)*2)
	for key, value := range fields {
		keysAndValues = append(keysAndValues, key, value)
	}
	return keysAndValues
}
