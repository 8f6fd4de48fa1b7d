package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/relaymask/golang_services/internal/relay_service/domain"
)

// --- Mocks ---

type MockRelayNumberRepository struct {
	mock.Mock
}

func (m *MockRelayNumberRepository) GetByNumber(ctx context.Context, number string) (*domain.RelayNumber, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RelayNumber), args.Error(1)
}

func (m *MockRelayNumberRepository) DecrementRemainingTexts(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRelayNumberRepository) DecrementRemainingSeconds(ctx context.Context, id uuid.UUID, seconds int) (int, error) {
	args := m.Called(ctx, id, seconds)
	return args.Int(0), args.Error(1)
}

func (m *MockRelayNumberRepository) IncrementCallsForwarded(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRelayNumberRepository) IncrementBlocked(ctx context.Context, id uuid.UUID, kind domain.ContactKind) error {
	args := m.Called(ctx, id, kind)
	return args.Error(0)
}

type MockRealPhoneRepository struct {
	mock.Mock
}

func (m *MockRealPhoneRepository) GetVerifiedByUser(ctx context.Context, userID uuid.UUID) (*domain.RealPhone, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RealPhone), args.Error(1)
}

type MockProfileRepository struct {
	mock.Mock
}

func (m *MockProfileRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

type MockInboundContactRepository struct {
	mock.Mock
}

func (m *MockInboundContactRepository) GetOrCreate(ctx context.Context, relayNumberID uuid.UUID, inboundNumber string) (*domain.InboundContact, error) {
	args := m.Called(ctx, relayNumberID, inboundNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InboundContact), args.Error(1)
}

func (m *MockInboundContactRepository) RecordContact(ctx context.Context, contactID uuid.UUID, kind domain.ContactKind, at time.Time) error {
	args := m.Called(ctx, contactID, kind, at)
	return args.Error(0)
}

func (m *MockInboundContactRepository) RecordBlockedContact(ctx context.Context, contactID, relayNumberID uuid.UUID, kind domain.ContactKind) error {
	args := m.Called(ctx, contactID, relayNumberID, kind)
	return args.Error(0)
}

func (m *MockInboundContactRepository) GetLastTextSender(ctx context.Context, relayNumberID uuid.UUID) (*domain.InboundContact, error) {
	args := m.Called(ctx, relayNumberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InboundContact), args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) SendMessage(ctx context.Context, from, to, body, statusCallback string) (string, error) {
	args := m.Called(ctx, from, to, body, statusCallback)
	return args.String(0), args.Error(1)
}

func (m *MockDispatcher) EndCall(ctx context.Context, callSID string) error {
	args := m.Called(ctx, callSID)
	return args.Error(0)
}

func (m *MockDispatcher) DeleteMessage(ctx context.Context, messageSID string) error {
	args := m.Called(ctx, messageSID)
	return args.Error(0)
}

func (m *MockDispatcher) LookupNumberDetails(ctx context.Context, e164Number string) (*NumberDetails, error) {
	args := m.Called(ctx, e164Number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*NumberDetails), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishJSON(ctx context.Context, subject string, payload any) error {
	args := m.Called(ctx, subject, payload)
	return args.Error(0)
}

// --- Fixtures ---

type engineFixture struct {
	relayNumbers *MockRelayNumberRepository
	realPhones   *MockRealPhoneRepository
	profiles     *MockProfileRepository
	contacts     *MockInboundContactRepository
	dispatcher   *MockDispatcher
	events       *MockEventPublisher
	service      *RelaySessionService
}

const (
	testRelayNumber  = "+12025551000"
	testRealNumber   = "+13015552000"
	testSenderNumber = "+14045553000"
	testCallbackURL  = "https://relay.example.com/api/v1/sms_status"
	testSiteOrigin   = "https://relay.example.com"
)

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		relayNumbers: new(MockRelayNumberRepository),
		realPhones:   new(MockRealPhoneRepository),
		profiles:     new(MockProfileRepository),
		contacts:     new(MockInboundContactRepository),
		dispatcher:   new(MockDispatcher),
		events:       new(MockEventPublisher),
	}
	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewRelaySessionService(
		f.relayNumbers, f.realPhones, f.profiles, f.contacts,
		f.dispatcher, f.events, testLogger,
		testCallbackURL, testSiteOrigin,
	)
	return f
}

func (f *engineFixture) relay(mutate func(*domain.RelayNumber)) *domain.RelayNumber {
	rn := &domain.RelayNumber{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Number:           testRelayNumber,
		Enabled:          true,
		RemainingSeconds: 3000,
		RemainingTexts:   75,
	}
	if mutate != nil {
		mutate(rn)
	}
	return rn
}

func (f *engineFixture) expectResolve(rn *domain.RelayNumber) *domain.RealPhone {
	real := &domain.RealPhone{
		ID:       uuid.New(),
		UserID:   rn.UserID,
		Number:   testRealNumber,
		Verified: true,
	}
	f.relayNumbers.On("GetByNumber", mock.Anything, rn.Number).Return(rn, nil)
	f.realPhones.On("GetVerifiedByUser", mock.Anything, rn.UserID).Return(real, nil)
	return real
}

func (f *engineFixture) expectProfile(userID uuid.UUID, storing bool) {
	f.profiles.On("GetByUser", mock.Anything, userID).
		Return(&domain.Profile{ID: uuid.New(), UserID: userID, StorePhoneLog: storing}, nil)
}

func (f *engineFixture) expectEvents() {
	f.events.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

// --- Inbound SMS ---

func TestHandleInboundSms_Forwarded(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(nil)
	f.expectResolve(rn)
	f.expectProfile(rn.UserID, true)
	f.expectEvents()

	contact := &domain.InboundContact{ID: uuid.New(), RelayNumberID: rn.ID, InboundNumber: testSenderNumber}
	f.contacts.On("GetOrCreate", mock.Anything, rn.ID, testSenderNumber).Return(contact, nil)
	f.contacts.On("RecordContact", mock.Anything, contact.ID, domain.ContactKindText, mock.Anything).Return(nil)

	f.dispatcher.On("SendMessage", mock.Anything, testRelayNumber, testRealNumber,
		"[Relay 📲 "+testSenderNumber+"] hello there", testCallbackURL).Return("SM123", nil)
	f.relayNumbers.On("DecrementRemainingTexts", mock.Anything, rn.ID).Return(nil)

	outcome, err := f.service.HandleInboundSms(context.Background(), testSenderNumber, testRelayNumber, "hello there")

	require.NoError(t, err)
	assert.True(t, outcome.Forwarded)
	f.dispatcher.AssertExpectations(t)
	f.relayNumbers.AssertExpectations(t)
	f.contacts.AssertExpectations(t)
}

func TestHandleInboundSms_OutOfTexts(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(func(rn *domain.RelayNumber) { rn.RemainingTexts = 0 })
	f.expectResolve(rn)

	outcome, err := f.service.HandleInboundSms(context.Background(), testSenderNumber, testRelayNumber, "hello")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Nil(t, outcome)
	f.dispatcher.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.relayNumbers.AssertNotCalled(t, "DecrementRemainingTexts", mock.Anything, mock.Anything)
}

func TestHandleInboundSms_DisabledNumberDropsSilently(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(func(rn *domain.RelayNumber) { rn.Enabled = false })
	f.expectResolve(rn)
	f.expectEvents()
	f.relayNumbers.On("IncrementBlocked", mock.Anything, rn.ID, domain.ContactKindText).Return(nil)

	outcome, err := f.service.HandleInboundSms(context.Background(), testSenderNumber, testRelayNumber, "hello")

	require.NoError(t, err)
	assert.False(t, outcome.Forwarded)
	f.relayNumbers.AssertExpectations(t)
	f.dispatcher.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleInboundSms_BlockedContactDropsSilently(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(nil)
	f.expectResolve(rn)
	f.expectProfile(rn.UserID, true)
	f.expectEvents()

	contact := &domain.InboundContact{ID: uuid.New(), RelayNumberID: rn.ID, InboundNumber: testSenderNumber, Blocked: true}
	f.contacts.On("GetOrCreate", mock.Anything, rn.ID, testSenderNumber).Return(contact, nil)
	f.contacts.On("RecordBlockedContact", mock.Anything, contact.ID, rn.ID, domain.ContactKindText).Return(nil).Once()

	outcome, err := f.service.HandleInboundSms(context.Background(), testSenderNumber, testRelayNumber, "hello")

	require.NoError(t, err)
	assert.False(t, outcome.Forwarded)
	f.contacts.AssertExpectations(t)
	f.contacts.AssertNotCalled(t, "RecordContact", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.dispatcher.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.relayNumbers.AssertNotCalled(t, "DecrementRemainingTexts", mock.Anything, mock.Anything)
}

func TestHandleInboundSms_LoggingDisabledForwardsUntracked(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(nil)
	f.expectResolve(rn)
	f.expectProfile(rn.UserID, false)
	f.expectEvents()

	f.dispatcher.On("SendMessage", mock.Anything, testRelayNumber, testRealNumber,
		mock.Anything, testCallbackURL).Return("SM123", nil)
	f.relayNumbers.On("DecrementRemainingTexts", mock.Anything, rn.ID).Return(nil)

	outcome, err := f.service.HandleInboundSms(context.Background(), testSenderNumber, testRelayNumber, "hello")

	require.NoError(t, err)
	assert.True(t, outcome.Forwarded)
	f.contacts.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleInboundSms_UnknownNumber(t *testing.T) {
	f := newEngineFixture(t)
	f.relayNumbers.On("GetByNumber", mock.Anything, testRelayNumber).Return(nil, domain.ErrNotFound)

	_, err := f.service.HandleInboundSms(context.Background(), testSenderNumber, testRelayNumber, "hello")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// --- Replies ---

func TestHandleInboundSms_ReplyForwardedToLastTextSender(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(nil)
	f.expectResolve(rn)
	f.expectProfile(rn.UserID, true)

	lastSender := &domain.InboundContact{
		ID:              uuid.New(),
		RelayNumberID:   rn.ID,
		InboundNumber:   testSenderNumber,
		LastInboundType: "text",
	}
	f.contacts.On("GetLastTextSender", mock.Anything, rn.ID).Return(lastSender, nil)
	f.dispatcher.On("SendMessage", mock.Anything, testRelayNumber, testSenderNumber, "my reply", "").Return("SM456", nil)
	f.relayNumbers.On("DecrementRemainingTexts", mock.Anything, rn.ID).Return(nil).Once()

	outcome, err := f.service.HandleInboundSms(context.Background(), testRealNumber, testRelayNumber, "my reply")

	require.NoError(t, err)
	assert.False(t, outcome.Forwarded)
	f.dispatcher.AssertExpectations(t)
	f.relayNumbers.AssertExpectations(t)
}

func TestHandleInboundSms_ReplyWithoutPhoneLog(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(nil)
	f.expectResolve(rn)
	f.expectProfile(rn.UserID, false)

	f.dispatcher.On("SendMessage", mock.Anything, testRelayNumber, testRealNumber,
		mock.MatchedBy(func(body string) bool {
			return body != "" && body != "my reply"
		}), "").Return("SM789", nil).Once()

	_, err := f.service.HandleInboundSms(context.Background(), testRealNumber, testRelayNumber, "my reply")

	assert.ErrorIs(t, err, domain.ErrReplyPolicy)
	f.dispatcher.AssertExpectations(t)
	f.relayNumbers.AssertNotCalled(t, "DecrementRemainingTexts", mock.Anything, mock.Anything)
}

func TestHandleInboundSms_ReplyWithoutPreviousSender(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(nil)
	f.expectResolve(rn)
	f.expectProfile(rn.UserID, true)

	f.contacts.On("GetLastTextSender", mock.Anything, rn.ID).Return(nil, domain.ErrNotFound)
	f.dispatcher.On("SendMessage", mock.Anything, testRelayNumber, testRealNumber,
		"Could not find a previous text sender.", "").Return("SM790", nil).Once()

	_, err := f.service.HandleInboundSms(context.Background(), testRealNumber, testRelayNumber, "my reply")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	f.dispatcher.AssertExpectations(t)
	f.relayNumbers.AssertNotCalled(t, "DecrementRemainingTexts", mock.Anything, mock.Anything)
}

// --- Inbound calls ---

func TestHandleInboundCall_Forwarded(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(nil)
	real := f.expectResolve(rn)
	f.expectProfile(rn.UserID, true)
	f.expectEvents()

	contact := &domain.InboundContact{ID: uuid.New(), RelayNumberID: rn.ID, InboundNumber: testSenderNumber}
	f.contacts.On("GetOrCreate", mock.Anything, rn.ID, testSenderNumber).Return(contact, nil)
	f.contacts.On("RecordContact", mock.Anything, contact.ID, domain.ContactKindCall, mock.Anything).Return(nil)
	f.relayNumbers.On("IncrementCallsForwarded", mock.Anything, rn.ID).Return(nil)

	outcome, err := f.service.HandleInboundCall(context.Background(), testSenderNumber, testRelayNumber)

	require.NoError(t, err)
	assert.False(t, outcome.Blocked)
	assert.Equal(t, real.Number, outcome.DialNumber)
	assert.Equal(t, testSenderNumber, outcome.CallerID)
	f.relayNumbers.AssertExpectations(t)
}

func TestHandleInboundCall_DisabledNumberSkipsQuotaCheck(t *testing.T) {
	f := newEngineFixture(t)
	// Zero remaining seconds would reject a call; the disabled gate comes
	// first, so the outcome is the spoken rejection, not a quota error.
	rn := f.relay(func(rn *domain.RelayNumber) {
		rn.Enabled = false
		rn.RemainingSeconds = 0
	})
	f.expectResolve(rn)
	f.expectEvents()
	f.relayNumbers.On("IncrementBlocked", mock.Anything, rn.ID, domain.ContactKindCall).Return(nil).Once()

	outcome, err := f.service.HandleInboundCall(context.Background(), testSenderNumber, testRelayNumber)

	require.NoError(t, err)
	assert.True(t, outcome.Blocked)
	f.relayNumbers.AssertExpectations(t)
	f.relayNumbers.AssertNotCalled(t, "DecrementRemainingSeconds", mock.Anything, mock.Anything, mock.Anything)
	f.relayNumbers.AssertNotCalled(t, "IncrementCallsForwarded", mock.Anything, mock.Anything)
}

func TestHandleInboundCall_OutOfSeconds(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(func(rn *domain.RelayNumber) { rn.RemainingSeconds = 0 })
	f.expectResolve(rn)

	_, err := f.service.HandleInboundCall(context.Background(), testSenderNumber, testRelayNumber)

	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	f.relayNumbers.AssertNotCalled(t, "IncrementCallsForwarded", mock.Anything, mock.Anything)
}

func TestHandleInboundCall_BlockedContact(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(nil)
	f.expectResolve(rn)
	f.expectProfile(rn.UserID, true)
	f.expectEvents()

	contact := &domain.InboundContact{ID: uuid.New(), RelayNumberID: rn.ID, InboundNumber: testSenderNumber, Blocked: true}
	f.contacts.On("GetOrCreate", mock.Anything, rn.ID, testSenderNumber).Return(contact, nil)
	f.contacts.On("RecordBlockedContact", mock.Anything, contact.ID, rn.ID, domain.ContactKindCall).Return(nil).Once()

	outcome, err := f.service.HandleInboundCall(context.Background(), testSenderNumber, testRelayNumber)

	require.NoError(t, err)
	assert.True(t, outcome.Blocked)
	f.contacts.AssertExpectations(t)
	f.relayNumbers.AssertNotCalled(t, "IncrementCallsForwarded", mock.Anything, mock.Anything)
}

// --- Call status callbacks ---

func TestHandleCallStatus_CompletedBillsFullDuration(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(func(rn *domain.RelayNumber) { rn.RemainingSeconds = 30 })
	f.relayNumbers.On("GetByNumber", mock.Anything, testRelayNumber).Return(rn, nil)
	// 45 seconds against a 30-second balance leaves -15: the over-limit
	// terminal state, not an error.
	f.relayNumbers.On("DecrementRemainingSeconds", mock.Anything, rn.ID, 45).Return(-15, nil)
	f.dispatcher.On("EndCall", mock.Anything, "CA123").Return(nil).Once()
	f.events.On("PublishJSON", mock.Anything, domain.SubjectLimitExceeded, mock.MatchedBy(func(payload any) bool {
		ev, ok := payload.(domain.LimitExceededEvent)
		return ok && ev.RemainingSeconds == -15 && ev.CallDurationInSeconds == 45 && ev.UserID == rn.UserID
	})).Return(nil).Once()

	err := f.service.HandleCallStatus(context.Background(), "CA123", testRelayNumber, "completed", 45)

	require.NoError(t, err)
	f.relayNumbers.AssertExpectations(t)
	f.dispatcher.AssertExpectations(t)
	f.events.AssertExpectations(t)
}

func TestHandleCallStatus_WithinLimitNoEvent(t *testing.T) {
	f := newEngineFixture(t)
	rn := f.relay(nil)
	f.relayNumbers.On("GetByNumber", mock.Anything, testRelayNumber).Return(rn, nil)
	f.relayNumbers.On("DecrementRemainingSeconds", mock.Anything, rn.ID, 60).Return(2940, nil)
	f.dispatcher.On("EndCall", mock.Anything, "CA123").Return(nil).Once()

	err := f.service.HandleCallStatus(context.Background(), "CA123", testRelayNumber, "completed", 60)

	require.NoError(t, err)
	f.events.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleCallStatus_IgnoresNonCompleted(t *testing.T) {
	f := newEngineFixture(t)

	err := f.service.HandleCallStatus(context.Background(), "CA123", testRelayNumber, "ringing", 0)

	require.NoError(t, err)
	f.relayNumbers.AssertNotCalled(t, "GetByNumber", mock.Anything, mock.Anything)
	f.dispatcher.AssertNotCalled(t, "EndCall", mock.Anything, mock.Anything)
}

// --- SMS status callbacks ---

func TestHandleSmsStatus_DeliveredDeletesProviderMessage(t *testing.T) {
	f := newEngineFixture(t)
	f.dispatcher.On("DeleteMessage", mock.Anything, "SM123").Return(nil).Once()

	err := f.service.HandleSmsStatus(context.Background(), "SM123", "delivered")

	require.NoError(t, err)
	f.dispatcher.AssertExpectations(t)
}

func TestHandleSmsStatus_RedeliveryTolerated(t *testing.T) {
	f := newEngineFixture(t)
	f.dispatcher.On("DeleteMessage", mock.Anything, "SM123").Return(nil).Once()
	f.dispatcher.On("DeleteMessage", mock.Anything, "SM123").Return(domain.ErrProviderNotFound)

	require.NoError(t, f.service.HandleSmsStatus(context.Background(), "SM123", "delivered"))
	require.NoError(t, f.service.HandleSmsStatus(context.Background(), "SM123", "delivered"))
}

func TestHandleSmsStatus_OtherDeleteFailuresPropagate(t *testing.T) {
	f := newEngineFixture(t)
	f.dispatcher.On("DeleteMessage", mock.Anything, "SM123").Return(errors.New("provider down"))

	err := f.service.HandleSmsStatus(context.Background(), "SM123", "delivered")

	assert.Error(t, err)
}

func TestHandleSmsStatus_IgnoresNonDelivered(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.service.HandleSmsStatus(context.Background(), "SM123", "sent"))
	f.dispatcher.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything)
}
