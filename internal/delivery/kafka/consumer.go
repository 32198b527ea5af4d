package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/config"
	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/usecase"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Consumer serves request topics against the claim service and replies on
// the requester's reply topic. Internal failures are re-queued on the retry
// topic and land in the DLQ once MaxAttempts is spent.
type Consumer struct {
	client  *kgo.Client
	cfg     *config.Config
	service usecase.ClaimGateway
	log     *zap.Logger
	ready   chan struct{}
	now     func() time.Time
}

func NewConsumer(cfg *config.Config, client *kgo.Client, service usecase.ClaimGateway, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		client:  client,
		cfg:     cfg,
		service: service,
		log:     log,
		ready:   make(chan struct{}),
		now:     time.Now,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	close(c.ready)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				c.log.Warn("consumer poll error", zap.String("topic", fe.Topic), zap.Error(fe.Err))
			}
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			c.processRecord(ctx, record)
		}

		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.log.Warn("commit records", zap.Error(err))
		}
	}
}

func (c *Consumer) StartRetry(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()

			if nextAt, ok := retryNextAt(record); ok && c.now().Before(nextAt) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(nextAt.Sub(c.now())):
				}
			}

			newRecord := &kgo.Record{
				Topic:   requestTopicFor(record.Topic),
				Key:     record.Key,
				Value:   record.Value,
				Headers: record.Headers,
			}
			if err := c.client.ProduceSync(ctx, newRecord).FirstErr(); err != nil {
				c.log.Warn("requeue retry record", zap.String("topic", newRecord.Topic), zap.Error(err))
			}
		}
		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.log.Warn("commit retry records", zap.Error(err))
		}
	}
}

func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	var req RequestPayload
	if err := json.Unmarshal(record.Value, &req); err != nil {
		c.sendError(ctx, record, ErrCodeInvalidRequest, "invalid request payload")
		return
	}

	resp, err := c.dispatch(ctx, record.Topic, req)
	if err != nil {
		if attempt := attemptOf(record); attempt < MaxAttempts {
			c.scheduleRetry(ctx, record, attempt+1, err)
			return
		}
		c.sendError(ctx, record, ErrCodeInternalError, err.Error())
		return
	}
	c.sendResponse(ctx, req.ReplyTo, resp)
}

// dispatch runs one request. A non-nil error is an internal failure worth
// retrying; domain failures come back as an error response.
func (c *Consumer) dispatch(ctx context.Context, topic string, req RequestPayload) (*ResponsePayload, error) {
	var (
		resp = successResponse(req.CorrelationID)
		err  error
	)
	switch topic {
	case TopicClaimRequest:
		var claim domain.Claim
		claim, err = c.service.ClaimOffer(ctx, req.OfferID, req.UserID)
		resp.Claim = &claim
	case TopicOfferGetRequest:
		var offer domain.Offer
		offer, err = c.service.GetOffer(ctx, req.OfferID)
		resp.Offer = &offer
	case TopicClaimGetRequest:
		var claim domain.Claim
		claim, err = c.service.GetClaim(ctx, req.ClaimID)
		resp.Claim = &claim
	case TopicUserClaimsRequest:
		resp.Claims, err = c.service.ListUserClaims(ctx, req.UserID)
	default:
		return errorResponse(req.CorrelationID, ErrCodeInvalidRequest, "unknown request topic "+topic), nil
	}

	if err != nil {
		if domain.KindOf(err) == domain.KindInternal && !errors.Is(err, domain.ErrTokenGenerationFailed) {
			return nil, err
		}
		return errorResponse(req.CorrelationID, domain.Code(err), err.Error()), nil
	}
	return resp, nil
}

func (c *Consumer) scheduleRetry(ctx context.Context, record *kgo.Record, attempt int, cause error) {
	nextAt := c.now().Add(time.Duration(attempt) * RetryDelay)
	retry := &kgo.Record{
		Topic: retryTopicFor(record.Topic),
		Key:   record.Key,
		Value: record.Value,
		Headers: setHeader(setHeader(record.Headers,
			RetryHeaderNextAt, nextAt.UTC().Format(time.RFC3339Nano)),
			RetryHeaderAttempt, strconv.Itoa(attempt)),
	}
	c.log.Warn("request failed, scheduling retry",
		zap.String("topic", record.Topic),
		zap.Int("attempt", attempt),
		zap.Error(cause),
	)
	if err := c.client.ProduceSync(ctx, retry).FirstErr(); err != nil {
		c.log.Error("produce retry record", zap.String("topic", retry.Topic), zap.Error(err))
	}
}

func (c *Consumer) sendResponse(ctx context.Context, topic string, resp *ResponsePayload) {
	if topic == "" {
		return
	}
	payload, _ := json.Marshal(resp)
	record := &kgo.Record{
		Topic: topic,
		Value: payload,
	}
	if err := c.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		c.log.Warn("send response", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *Consumer) sendError(ctx context.Context, record *kgo.Record, code, message string) {
	var req RequestPayload
	_ = json.Unmarshal(record.Value, &req)

	resp := errorResponse(req.CorrelationID, code, message)
	c.sendResponse(ctx, req.ReplyTo, resp)

	dlqRecord := &kgo.Record{
		Topic: requestTopicFor(record.Topic) + TopicDLQSuffix,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: ErrorHeaderKey, Value: []byte(message)},
		},
	}
	if err := c.client.ProduceSync(ctx, dlqRecord).FirstErr(); err != nil {
		c.log.Error("produce dlq record", zap.String("topic", dlqRecord.Topic), zap.Error(err))
	}
}

func requestTopicFor(topic string) string {
	if strings.HasSuffix(topic, TopicRetrySuffix) {
		return strings.TrimSuffix(topic, TopicRetrySuffix) + TopicRequestSuffix
	}
	return topic
}

func retryTopicFor(topic string) string {
	return strings.TrimSuffix(requestTopicFor(topic), TopicRequestSuffix) + TopicRetrySuffix
}

func header(record *kgo.Record, key string) (string, bool) {
	for _, h := range record.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func setHeader(headers []kgo.RecordHeader, key, value string) []kgo.RecordHeader {
	out := make([]kgo.RecordHeader, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	return append(out, kgo.RecordHeader{Key: key, Value: []byte(value)})
}

func retryNextAt(record *kgo.Record) (time.Time, bool) {
	v, ok := header(record, RetryHeaderNextAt)
	if !ok {
		return time.Time{}, false
	}
	nextAt, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return nextAt, true
}

func attemptOf(record *kgo.Record) int {
	v, ok := header(record, RetryHeaderAttempt)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func successResponse(correlationID string) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: 1,
		CorrelationID: correlationID,
		Status:        StatusSuccess,
	}
}

func errorResponse(correlationID, code, message string) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: 1,
		CorrelationID: correlationID,
		Status:        StatusError,
		ErrorCode:     code,
		ErrorMessage:  message,
	}
}
