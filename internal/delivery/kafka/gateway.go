package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/config"
	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/usecase"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

var ErrReplyTimeout = errors.New("timeout waiting for response")

// Gateway sends claim operations over request topics and waits for the reply
// addressed to this instance.
type Gateway struct {
	client      *kgo.Client
	cfg         *config.Config
	log         *zap.Logger
	pendingResp sync.Map
}

func NewGateway(cfg *config.Config, client *kgo.Client, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

func (g *Gateway) newRequest() RequestPayload {
	return RequestPayload{
		SchemaVersion: 1,
		CorrelationID: uuid.New().String(),
		ReplyTo:       ReplyTopic(g.cfg.KafkaInstanceID),
	}
}

func (g *Gateway) ClaimOffer(ctx context.Context, offerID, userID string) (domain.Claim, error) {
	req := g.newRequest()
	req.OfferID = offerID
	req.UserID = userID

	// Keyed by offer so every claim on one offer lands on one partition.
	resp, err := g.requestReply(ctx, TopicClaimRequest, []byte(offerID), req)
	if err != nil {
		return domain.Claim{}, err
	}
	if resp.Status == StatusError {
		return domain.Claim{}, domain.ErrorFromCode(resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.Claim == nil {
		return domain.Claim{}, fmt.Errorf("claim reply %s without claim", resp.CorrelationID)
	}
	return *resp.Claim, nil
}

func (g *Gateway) GetOffer(ctx context.Context, offerID string) (domain.Offer, error) {
	req := g.newRequest()
	req.OfferID = offerID

	resp, err := g.requestReply(ctx, TopicOfferGetRequest, []byte(offerID), req)
	if err != nil {
		return domain.Offer{}, err
	}
	if resp.Status == StatusError {
		return domain.Offer{}, domain.ErrorFromCode(resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.Offer == nil {
		return domain.Offer{}, fmt.Errorf("offer reply %s without offer", resp.CorrelationID)
	}
	return *resp.Offer, nil
}

func (g *Gateway) GetClaim(ctx context.Context, claimID string) (domain.Claim, error) {
	req := g.newRequest()
	req.ClaimID = claimID

	resp, err := g.requestReply(ctx, TopicClaimGetRequest, []byte(claimID), req)
	if err != nil {
		return domain.Claim{}, err
	}
	if resp.Status == StatusError {
		return domain.Claim{}, domain.ErrorFromCode(resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.Claim == nil {
		return domain.Claim{}, fmt.Errorf("claim reply %s without claim", resp.CorrelationID)
	}
	return *resp.Claim, nil
}

func (g *Gateway) ListUserClaims(ctx context.Context, userID string) ([]domain.Claim, error) {
	req := g.newRequest()
	req.UserID = userID

	resp, err := g.requestReply(ctx, TopicUserClaimsRequest, []byte(userID), req)
	if err != nil {
		return nil, err
	}
	if resp.Status == StatusError {
		return nil, domain.ErrorFromCode(resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.Claims == nil {
		return []domain.Claim{}, nil
	}
	return resp.Claims, nil
}

func (g *Gateway) requestReply(ctx context.Context, topic string, key []byte, req RequestPayload) (*ResponsePayload, error) {
	respChan := make(chan *ResponsePayload, 1)
	g.pendingResp.Store(req.CorrelationID, respChan)
	defer g.pendingResp.Delete(req.CorrelationID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}

	if err := g.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return nil, fmt.Errorf("produce %s: %w", topic, err)
	}

	timer := time.NewTimer(RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrReplyTimeout
	}
}

// HandleResponse routes a reply record to the waiting request, if any.
func (g *Gateway) HandleResponse(payload []byte) {
	var resp ResponsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		g.log.Warn("decode response payload", zap.Error(err))
		return
	}

	if ch, ok := g.pendingResp.Load(resp.CorrelationID); ok {
		select {
		case ch.(chan *ResponsePayload) <- &resp:
		default:
		}
		return
	}

	g.log.Debug("no pending response", zap.String("correlation_id", resp.CorrelationID))
}

// PollReplies feeds this instance's reply topic into HandleResponse until the
// client is closed.
func (g *Gateway) PollReplies(ctx context.Context, client *kgo.Client) {
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			g.HandleResponse(iter.Next().Value)
		}
	}
}

var _ usecase.ClaimGateway = (*Gateway)(nil)
