package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRawRequiresID(t *testing.T) {
	_, err := FromRaw(map[string]interface{}{"body": map[string]interface{}{"type": "PING"}})
	require.Error(t, err)
}

func TestFromRawRequiresBodyType(t *testing.T) {
	_, err := FromRaw(map[string]interface{}{"id": "m1", "body": map[string]interface{}{}})
	require.Error(t, err)
}

func TestFromRawDetectsResponse(t *testing.T) {
	env, err := FromRaw(map[string]interface{}{
		"id":            "m2",
		"correlationId": "m1",
		"body":          map[string]interface{}{"type": "ACK-ACK"},
	})
	require.NoError(t, err)
	assert.Equal(t, KindResponse, env.Kind)
	assert.Equal(t, "m1", env.CorrelationID)
}

func TestNewNotificationGeneratesUniqueIDsAndDoesNotMutateInput(t *testing.T) {
	body := Body{"type": "UAV-INF"}
	n1 := NewNotification(body)
	n2 := NewNotification(body)

	assert.NotEmpty(t, n1.ID)
	assert.NotEqual(t, n1.ID, n2.ID)
	assert.Empty(t, n1.CorrelationID)
	assert.Equal(t, KindNotification, n1.Kind)

	n1.Body["type"] = "MUTATED"
	assert.Equal(t, "UAV-INF", body.Type(), "builder must not mutate caller's body")
}

func TestNewResponseToCorrelatesAndInfersType(t *testing.T) {
	req := &Envelope{ID: "m1", Body: Body{"type": "SYS-VER"}, Kind: KindRequest}

	resp := NewResponseTo(req, Body{"version": "1.2"})
	assert.Equal(t, "m1", resp.CorrelationID)
	assert.Equal(t, "SYS-VER", resp.Body.Type())
	assert.Equal(t, "1.2", resp.Body["version"])

	explicit := NewResponseTo(req, Body{"type": "OTHER"})
	assert.Equal(t, "OTHER", explicit.Body.Type(), "existing type must not be overwritten")
}

func TestAcknowledge(t *testing.T) {
	req := &Envelope{ID: "m1", Body: Body{"type": "FOO-BAR"}}

	ack := Acknowledge(req, true, "")
	assert.Equal(t, "ACK-ACK", ack.Body.Type())
	assert.Equal(t, "m1", ack.CorrelationID)
	_, hasReason := ack.Body["reason"]
	assert.False(t, hasReason)

	nak := Acknowledge(req, false, "no handler")
	assert.Equal(t, "ACK-NAK", nak.Body.Type())
	assert.Equal(t, "no handler", nak.Body["reason"])

	nakNoReason := Acknowledge(req, false, "")
	_, hasReason = nakNoReason.Body["reason"]
	assert.False(t, hasReason)
}
