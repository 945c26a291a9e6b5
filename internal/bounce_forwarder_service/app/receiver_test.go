package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/emersion/go-message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) IsReady() bool {
	return m.Called().Bool(0)
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	args := m.Called(ctx, channel, payload)
	return args.Error(0)
}

type staticReadiness bool

func (s staticReadiness) IsReady() bool { return bool(s) }

func newTestReceiver(pub *MockPublisher, subscriberReady bool) *Receiver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReceiver(pub, staticReadiness(subscriberReady), "queue", newTestBuilder(), logger)
}

const bounceBody = `{"msys":{"message_event":{"type":"bounce","raw_rcpt_to":"a@b.com","raw_reason":"550 no such user","error_code":"550","reason":"no such user","timestamp":"1700000000","message_id":"abc123"}}}`

func TestReceiver_Handle_PublishesBounce(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("IsReady").Return(true)
	var published []byte
	pub.On("Publish", mock.Anything, "queue", mock.AnythingOfType("[]uint8")).
		Run(func(args mock.Arguments) { published = args.Get(2).([]byte) }).
		Return(nil).Once()

	status, body := newTestReceiver(pub, true).Handle(context.Background(), []byte(bounceBody), "fwd.example.com")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)
	pub.AssertExpectations(t)

	entity, err := message.Read(bytes.NewReader(published))
	require.NoError(t, err)
	assert.Equal(t, "abc123", entity.Header.Get("Message-ID"))

	mr := entity.MultipartReader()
	require.NotNil(t, mr)
	_, err = mr.NextPart()
	require.NoError(t, err)
	statusPart, err := mr.NextPart()
	require.NoError(t, err)
	statusBody, err := io.ReadAll(statusPart.Body)
	require.NoError(t, err)
	assert.Contains(t, string(statusBody), "Final-Recipient: rfc822; a@b.com")
	assert.Contains(t, string(statusBody), "Reporting-MTA: dns; fwd.example.com")
}

func TestReceiver_Handle_HealthCheckPayload(t *testing.T) {
	for _, payload := range []string{`{"msys":{}}`, `{}`, `[{"msys":{"message_event":{}}}]`, `"hello"`} {
		t.Run(payload, func(t *testing.T) {
			pub := new(MockPublisher)
			pub.On("IsReady").Return(true)

			status, body := newTestReceiver(pub, true).Handle(context.Background(), []byte(payload), "h")

			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "OK", body)
			pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestReceiver_Handle_NotReady(t *testing.T) {
	tests := []struct {
		name            string
		publisherReady  bool
		subscriberReady bool
	}{
		{name: "publisher down", publisherReady: false, subscriberReady: true},
		{name: "subscriber down", publisherReady: true, subscriberReady: false},
		{name: "both down", publisherReady: false, subscriberReady: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := new(MockPublisher)
			pub.On("IsReady").Return(tt.publisherReady)

			status, body := newTestReceiver(pub, tt.subscriberReady).Handle(context.Background(), []byte(bounceBody), "h")

			assert.Equal(t, http.StatusInternalServerError, status)
			assert.Equal(t, "Not ready", body)
			pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestReceiver_Handle_InvalidJSON(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("IsReady").Return(true)

	status, body := newTestReceiver(pub, true).Handle(context.Background(), []byte(`{"msys":`), "h")

	assert.Equal(t, http.StatusBadRequest, status)
	assert.True(t, strings.HasPrefix(body, "Invalid data: "), body)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestReceiver_Handle_MalformedEventIsAcknowledged(t *testing.T) {
	bodies := []string{
		`{"msys":{"message_event":{"raw_rcpt_to":"a@b.com"}}}`,
		`{"msys":{"message_event":{"raw_rcpt_to":"a@b.com","timestamp":"soon"}}}`,
		`{"msys":{"message_event":"bounce"}}`,
	}
	for _, payload := range bodies {
		t.Run(payload, func(t *testing.T) {
			pub := new(MockPublisher)
			pub.On("IsReady").Return(true)

			status, body := newTestReceiver(pub, true).Handle(context.Background(), []byte(payload), "h")

			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "OK", body)
			pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestReceiver_Handle_PublishFailure(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("IsReady").Return(true)
	pub.On("Publish", mock.Anything, "queue", mock.Anything).Return(errors.New("connection reset")).Once()

	status, body := newTestReceiver(pub, true).Handle(context.Background(), []byte(bounceBody), "h")

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Not ready", body)
	pub.AssertExpectations(t)
}

func TestReceiver_Ready(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("IsReady").Return(true)
	assert.True(t, newTestReceiver(pub, true).Ready())
	assert.False(t, newTestReceiver(pub, false).Ready())
}
