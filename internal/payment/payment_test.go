package payment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

func newTestMediator(t *testing.T, secret string) (*Mediator, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := New("sk_test_x", secret, "https://app.example/success", "https://app.example/cancel", rdb, zap.NewNop())
	return m, rdb
}

func signedCheckoutCompletedPayload(secret, deploymentID, eventID string) ([]byte, string) {
	payload, _ := json.Marshal(map[string]any{
		"id":          eventID,
		"api_version": stripe.APIVersion,
		"type":        "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test_1",
				"payment_status": "paid",
				"metadata": map[string]string{
					"deploymentId": deploymentID,
				},
			},
		},
	})
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return payload, signed.Header
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	m, _ := newTestMediator(t, "whsec_test")
	payload, _ := signedCheckoutCompletedPayload("whsec_other", "d-1", "evt_1")

	_, err := m.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	require.Error(t, err)
}

func TestHandleWebhookExtractsDeploymentID(t *testing.T) {
	m, _ := newTestMediator(t, "whsec_test")
	payload, sig := signedCheckoutCompletedPayload("whsec_test", "d-42", "evt_1")

	result, err := m.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	require.Equal(t, "d-42", result.DeploymentID)
}

func TestHandleWebhookDedupsRepeatedEventID(t *testing.T) {
	m, _ := newTestMediator(t, "whsec_test")
	payload, sig := signedCheckoutCompletedPayload("whsec_test", "d-42", "evt_dup")

	first, err := m.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := m.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
}
