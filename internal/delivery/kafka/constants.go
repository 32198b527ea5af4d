package kafka

import "time"

const (
	TopicClaimRequest      = "offer.claim.req"
	TopicOfferGetRequest   = "offer.get.req"
	TopicClaimGetRequest   = "claim.get.req"
	TopicUserClaimsRequest = "claim.list.req"
	TopicClaimRetry        = "offer.claim.retry"
	TopicOfferGetRetry     = "offer.get.retry"
	TopicClaimGetRetry     = "claim.get.retry"
	TopicUserClaimsRetry   = "claim.list.retry"
	TopicReplyPrefix       = "offer.reply."
	TopicRequestSuffix     = ".req"
	TopicRetrySuffix       = ".retry"
	TopicDLQSuffix         = ".dlq"

	// TopicClaimUpdates carries every committed claim change, keyed by
	// claim id so one claim's versions stay ordered within a partition.
	TopicClaimUpdates = "claim.updates"

	RequestTimeout = 3 * time.Second
	RetryDelay     = 250 * time.Millisecond
	MaxAttempts    = 3

	RetryHeaderNextAt  = "x-next-at"
	RetryHeaderAttempt = "x-attempt"
	ErrorHeaderKey     = "x-error"
)

// RequestTopics lists the topics the request consumer group reads.
func RequestTopics() []string {
	return []string{TopicClaimRequest, TopicOfferGetRequest, TopicClaimGetRequest, TopicUserClaimsRequest}
}

func RetryTopics() []string {
	return []string{TopicClaimRetry, TopicOfferGetRetry, TopicClaimGetRetry, TopicUserClaimsRetry}
}

func ReplyTopic(instanceID string) string {
	return TopicReplyPrefix + instanceID
}
