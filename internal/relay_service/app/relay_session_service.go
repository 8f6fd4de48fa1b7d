package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaymask/golang_services/internal/relay_service/domain"
	"github.com/relaymask/golang_services/internal/relay_service/repository"
)

// CallStatusCompleted and SmsStatusDelivered are the only provider status
// values the engine acts on; everything else is acknowledged unchanged.
const (
	CallStatusCompleted = "completed"
	SmsStatusDelivered  = "delivered"
)

// InboundSmsOutcome tells the transport layer how to answer an inbound SMS
// webhook. The body is always the empty acknowledgment; Forwarded selects
// 201 over 200. Dropped texts (disabled number, blocked sender) look exactly
// like accepted ones so a sender cannot probe for the number's existence.
type InboundSmsOutcome struct {
	Forwarded bool
}

// InboundCallOutcome tells the transport layer how to answer an inbound call
// webhook: either a dial instruction naming the user's real number, or the
// spoken not-available rejection.
type InboundCallOutcome struct {
	Blocked    bool
	DialNumber string
	CallerID   string
}

// RelaySessionService is the relay session engine. Every inbound provider
// webhook flows through it: resolve identities, enforce quota and block
// policy, update counters, decide the declarative response.
type RelaySessionService struct {
	relayNumbers    repository.RelayNumberRepository
	realPhones      repository.RealPhoneRepository
	profiles        repository.ProfileRepository
	inboundContacts repository.InboundContactRepository
	dispatcher      Dispatcher
	events          EventPublisher
	logger          *slog.Logger

	// smsStatusCallbackURL is attached to forwarded texts so the provider
	// reports delivery back to this service.
	smsStatusCallbackURL string
	// siteOrigin is referenced in the error text sent to users who reply
	// without the phone log enabled.
	siteOrigin string

	now func() time.Time
}

func NewRelaySessionService(
	relayNumbers repository.RelayNumberRepository,
	realPhones repository.RealPhoneRepository,
	profiles repository.ProfileRepository,
	inboundContacts repository.InboundContactRepository,
	dispatcher Dispatcher,
	events EventPublisher,
	logger *slog.Logger,
	smsStatusCallbackURL string,
	siteOrigin string,
) *RelaySessionService {
	return &RelaySessionService{
		relayNumbers:         relayNumbers,
		realPhones:           realPhones,
		profiles:             profiles,
		inboundContacts:      inboundContacts,
		dispatcher:           dispatcher,
		events:               events,
		logger:               logger.With("service", "relay_session"),
		smsStatusCallbackURL: smsStatusCallbackURL,
		siteOrigin:           siteOrigin,
		now:                  func() time.Time { return time.Now().UTC() },
	}
}

// HandleInboundSms processes an SMS webhook from the provider.
func (s *RelaySessionService) HandleInboundSms(ctx context.Context, from, to, body string) (*InboundSmsOutcome, error) {
	inboundEventsCounter.WithLabelValues("sms").Inc()

	relay, real, err := s.resolve(ctx, to)
	if err != nil {
		return nil, err
	}

	if err := s.checkRemaining(ctx, relay, domain.ContactKindText); err != nil {
		return nil, err
	}

	if from == real.Number {
		if err := s.handleSmsReply(ctx, relay, real, body); err != nil {
			return nil, err
		}
		return &InboundSmsOutcome{Forwarded: false}, nil
	}

	if !relay.Enabled {
		s.recordGlobalBlock(ctx, relay, domain.ContactKindText)
		return &InboundSmsOutcome{Forwarded: false}, nil
	}

	if err := s.evaluateContactPolicy(ctx, relay, from, domain.ContactKindText); err != nil {
		if errors.Is(err, domain.ErrBlocked) {
			// Silent drop: the sender gets the same empty acknowledgment a
			// forwarded text gets.
			return &InboundSmsOutcome{Forwarded: false}, nil
		}
		return nil, err
	}

	forwardBody := fmt.Sprintf("[Relay 📲 %s] %s", from, body)
	if _, err := s.dispatcher.SendMessage(ctx, relay.Number, real.Number, forwardBody, s.smsStatusCallbackURL); err != nil {
		s.logger.ErrorContext(ctx, "Failed to forward SMS", "error", err, "relay_number_id", relay.ID)
		return nil, fmt.Errorf("forwarding sms: %w", err)
	}
	outboundCounter.WithLabelValues("sms").Inc()

	if err := s.relayNumbers.DecrementRemainingTexts(ctx, relay.ID); err != nil {
		return nil, fmt.Errorf("updating text counters: %w", err)
	}
	s.publishEvent(ctx, domain.SubjectSmsForwarded, domain.RelayEvent{
		RelayNumberID: relay.ID,
		UserID:        relay.UserID,
		Kind:          domain.ContactKindText,
		OccurredAt:    s.now(),
	})

	return &InboundSmsOutcome{Forwarded: true}, nil
}

// handleSmsReply forwards the user's own text to the last inbound text
// sender. Requires the phone log: without stored history there is nobody to
// reply to, and the user is told so on their real number.
func (s *RelaySessionService) handleSmsReply(ctx context.Context, relay *domain.RelayNumber, real *domain.RealPhone, body string) error {
	storing, err := s.storingPhoneLog(ctx, relay)
	if err != nil {
		return err
	}
	if !storing {
		errText := fmt.Sprintf(
			"You can only reply if you allow the relay service to keep a log of your callers and text senders. %s/accounts/settings/",
			s.siteOrigin,
		)
		if _, sendErr := s.dispatcher.SendMessage(ctx, relay.Number, real.Number, errText, ""); sendErr != nil {
			s.logger.ErrorContext(ctx, "Failed to send reply-policy notice", "error", sendErr, "relay_number_id", relay.ID)
		}
		return domain.ErrReplyPolicy
	}

	lastSender, err := s.inboundContacts.GetLastTextSender(ctx, relay.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			errText := "Could not find a previous text sender."
			if _, sendErr := s.dispatcher.SendMessage(ctx, relay.Number, real.Number, errText, ""); sendErr != nil {
				s.logger.ErrorContext(ctx, "Failed to send no-previous-sender notice", "error", sendErr, "relay_number_id", relay.ID)
			}
			return domain.ErrNotFound
		}
		return err
	}

	if _, err := s.dispatcher.SendMessage(ctx, relay.Number, lastSender.InboundNumber, body, ""); err != nil {
		s.logger.ErrorContext(ctx, "Failed to relay reply", "error", err, "relay_number_id", relay.ID)
		return fmt.Errorf("relaying reply: %w", err)
	}
	outboundCounter.WithLabelValues("sms_reply").Inc()

	if err := s.relayNumbers.DecrementRemainingTexts(ctx, relay.ID); err != nil {
		return fmt.Errorf("updating text counters: %w", err)
	}
	return nil
}

// HandleInboundCall processes a voice webhook from the provider. The engine
// never originates media; it answers with a dial instruction the provider
// executes.
func (s *RelaySessionService) HandleInboundCall(ctx context.Context, caller, called string) (*InboundCallOutcome, error) {
	inboundEventsCounter.WithLabelValues("call").Inc()

	relay, real, err := s.resolve(ctx, called)
	if err != nil {
		return nil, err
	}

	if !relay.Enabled {
		s.recordGlobalBlock(ctx, relay, domain.ContactKindCall)
		return &InboundCallOutcome{Blocked: true}, nil
	}

	if err := s.checkRemaining(ctx, relay, domain.ContactKindCall); err != nil {
		return nil, err
	}

	if err := s.evaluateContactPolicy(ctx, relay, caller, domain.ContactKindCall); err != nil {
		if errors.Is(err, domain.ErrBlocked) {
			return &InboundCallOutcome{Blocked: true}, nil
		}
		return nil, err
	}

	if err := s.relayNumbers.IncrementCallsForwarded(ctx, relay.ID); err != nil {
		return nil, fmt.Errorf("updating call counters: %w", err)
	}
	outboundCounter.WithLabelValues("call").Inc()
	s.publishEvent(ctx, domain.SubjectCallForwarded, domain.RelayEvent{
		RelayNumberID: relay.ID,
		UserID:        relay.UserID,
		Kind:          domain.ContactKindCall,
		OccurredAt:    s.now(),
	})

	return &InboundCallOutcome{Blocked: false, DialNumber: real.Number, CallerID: caller}, nil
}

// HandleCallStatus processes a call status callback. Only "completed" calls
// change state: the full duration is debited even when that drives the
// balance negative, and the provider-side call resource is torn down.
func (s *RelaySessionService) HandleCallStatus(ctx context.Context, callSID, called, callStatus string, durationSeconds int) error {
	inboundEventsCounter.WithLabelValues("voice_status").Inc()

	if callStatus != CallStatusCompleted {
		return nil
	}

	relay, err := s.relayNumbers.GetByNumber(ctx, called)
	if err != nil {
		return err
	}

	remaining, err := s.relayNumbers.DecrementRemainingSeconds(ctx, relay.ID, durationSeconds)
	if err != nil {
		return fmt.Errorf("debiting call duration: %w", err)
	}
	if remaining < 0 {
		limitExceededCounter.Inc()
		s.logger.InfoContext(ctx, "phone_limit_exceeded",
			"user_id", relay.UserID,
			"call_duration_in_seconds", durationSeconds,
			"relay_number_enabled", relay.Enabled,
			"remaining_seconds", remaining,
		)
		s.publishEvent(ctx, domain.SubjectLimitExceeded, domain.LimitExceededEvent{
			RelayNumberID:         relay.ID,
			UserID:                relay.UserID,
			CallDurationInSeconds: durationSeconds,
			RelayNumberEnabled:    relay.Enabled,
			RemainingSeconds:      remaining,
			OccurredAt:            s.now(),
		})
	}

	if err := s.dispatcher.EndCall(ctx, callSID); err != nil {
		return fmt.Errorf("ending call %s: %w", callSID, err)
	}
	return nil
}

// HandleSmsStatus processes an SMS status callback. Delivered messages are
// deleted on the provider side; a record that is already gone is fine, since
// the provider retries callbacks and may deliver this one twice.
func (s *RelaySessionService) HandleSmsStatus(ctx context.Context, messageSID, smsStatus string) error {
	inboundEventsCounter.WithLabelValues("sms_status").Inc()

	if smsStatus != SmsStatusDelivered {
		return nil
	}

	if err := s.dispatcher.DeleteMessage(ctx, messageSID); err != nil {
		if errors.Is(err, domain.ErrProviderNotFound) {
			s.logger.DebugContext(ctx, "Provider message already deleted", "message_sid", messageSID)
			return nil
		}
		return fmt.Errorf("deleting provider message %s: %w", messageSID, err)
	}
	return nil
}

// resolve maps a dialed/texted-to number to its relay number and the verified
// real phone behind it.
func (s *RelaySessionService) resolve(ctx context.Context, dialedNumber string) (*domain.RelayNumber, *domain.RealPhone, error) {
	relay, err := s.relayNumbers.GetByNumber(ctx, dialedNumber)
	if err != nil {
		return nil, nil, err
	}
	real, err := s.realPhones.GetVerifiedByUser(ctx, relay.UserID)
	if err != nil {
		return nil, nil, err
	}
	return relay, real, nil
}

// checkRemaining rejects the event when the quota gating kind is exhausted.
// Nothing is decremented here; spending happens only on forwarded events.
func (s *RelaySessionService) checkRemaining(ctx context.Context, relay *domain.RelayNumber, kind domain.ContactKind) error {
	if relay.Remaining(kind) <= 0 {
		outOfResourceCounter.WithLabelValues(kind.QuotaResource()).Inc()
		s.logger.InfoContext(ctx, "Relay number out of resource",
			"relay_number_id", relay.ID, "resource", kind.QuotaResource())
		return fmt.Errorf("number is out of %s: %w", kind.QuotaResource(), domain.ErrQuotaExceeded)
	}
	return nil
}

// recordGlobalBlock counts an event dropped because the relay number is
// disabled. Counter failures are logged, not surfaced: the drop response must
// go out regardless.
func (s *RelaySessionService) recordGlobalBlock(ctx context.Context, relay *domain.RelayNumber, kind domain.ContactKind) {
	globalBlockedCounter.WithLabelValues(kind.Plural()).Inc()
	if err := s.relayNumbers.IncrementBlocked(ctx, relay.ID, kind); err != nil {
		s.logger.ErrorContext(ctx, "Failed to increment global blocked counter",
			"error", err, "relay_number_id", relay.ID, "kind", kind)
	}
	s.publishEvent(ctx, domain.SubjectContactBlocked, domain.RelayEvent{
		RelayNumberID: relay.ID,
		UserID:        relay.UserID,
		Kind:          kind,
		GlobalBlock:   true,
		OccurredAt:    s.now(),
	})
}

// evaluateContactPolicy looks up (or lazily creates) the per-counterpart
// record and applies it. No record is kept when the user does not store
// their phone log; without a log, per-contact blocking is impossible and the
// event proceeds untracked.
func (s *RelaySessionService) evaluateContactPolicy(ctx context.Context, relay *domain.RelayNumber, counterpart string, kind domain.ContactKind) error {
	storing, err := s.storingPhoneLog(ctx, relay)
	if err != nil {
		return err
	}
	if !storing {
		return nil
	}

	contact, err := s.inboundContacts.GetOrCreate(ctx, relay.ID, counterpart)
	if err != nil {
		return err
	}

	if contact.Blocked {
		contactBlockedCounter.WithLabelValues(kind.Plural()).Inc()
		if err := s.inboundContacts.RecordBlockedContact(ctx, contact.ID, relay.ID, kind); err != nil {
			s.logger.ErrorContext(ctx, "Failed to record blocked contact",
				"error", err, "contact_id", contact.ID, "kind", kind)
		}
		s.publishEvent(ctx, domain.SubjectContactBlocked, domain.RelayEvent{
			RelayNumberID: relay.ID,
			UserID:        relay.UserID,
			Kind:          kind,
			OccurredAt:    s.now(),
		})
		return domain.ErrBlocked
	}

	if err := s.inboundContacts.RecordContact(ctx, contact.ID, kind, s.now()); err != nil {
		return fmt.Errorf("recording contact: %w", err)
	}
	return nil
}

func (s *RelaySessionService) storingPhoneLog(ctx context.Context, relay *domain.RelayNumber) (bool, error) {
	profile, err := s.profiles.GetByUser(ctx, relay.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("getting profile: %w", err)
	}
	return profile.StorePhoneLog, nil
}

func (s *RelaySessionService) publishEvent(ctx context.Context, subject string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(ctx, subject, payload); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish relay event", "error", err, "subject", subject)
	}
}
