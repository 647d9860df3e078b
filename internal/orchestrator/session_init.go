package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dealerline/voiceagent/internal/repo"
	"github.com/dealerline/voiceagent/internal/resilience"
	"github.com/dealerline/voiceagent/internal/sessionstore"
	"github.com/dealerline/voiceagent/internal/telephony"
	"github.com/dealerline/voiceagent/pkg/provider/stt"
)

// callConnectRetry is the STT/TTS connect discipline required by spec.md
// §4.1.2 step 5: 3 attempts, exponential backoff starting ~1s, factor 1.5 —
// exactly [resilience.RetryConfig]'s defaults, spelled out here for clarity.
var callConnectRetry = resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, Factor: 1.5}

// customerSnapshot mirrors the tool registry's lookup_customer result shape
// (internal/tools' unexported customerSnapshot) so session init can decode
// the same tool invocation's output without duplicating the cache-then-DB
// lookup it already performs.
type customerSnapshot struct {
	Customer     *repo.Customer     `json:"customer"`
	Vehicles     []repo.Vehicle     `json:"vehicles"`
	Appointments []repo.Appointment `json:"upcoming_appointments"`
}

// initCall performs session initialization (spec.md §4.1.2): persists a new
// Session Record, classifies the call, composes the system prompt, and
// connects STT and TTS in parallel with bounded retries. On any failure it
// releases whatever was already opened before returning the error.
func (o *Orchestrator) initCall(ctx context.Context, conn *telephony.Conn, start telephony.InboundEvent) (*call, error) {
	c := &call{
		deps:      o.deps,
		telephony: conn,
		callSID:   start.CallSID,
		streamSID: start.StreamSID,
		direction: repo.DirectionInbound,
		state:     StateGreeting,
		done:      make(chan struct{}),
		log:       slog.With("call_sid", start.CallSID),
	}

	callerPhone := start.CallerPhone
	if callerPhone == "" {
		callerPhone = start.CustomParameters["caller_phone"]
	}

	rec := &sessionstore.SessionRecord{
		CallSID:        start.CallSID,
		StreamSID:      start.StreamSID,
		CallerPhone:    callerPhone,
		CurrentState:   string(StateGreeting),
		CollectedSlots: map[string]any{},
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.deps.Session.SetSession(ctx, start.CallSID, rec, 0); err != nil {
		c.log.Warn("session init: set_session failed, continuing without cache", "error", err)
	}

	classification, customer := o.classifyCall(ctx, callerPhone, start.CustomParameters)
	if classification == classOutboundReminder {
		c.direction = repo.DirectionOutbound
	}
	if customer != nil && customer.Customer != nil {
		rec.CustomerID = &customer.Customer.ID
	}

	if err := o.deps.CallLogs.Start(ctx, &repo.CallLog{
		CallSID:     start.CallSID,
		CustomerID:  rec.CustomerID,
		Direction:   c.direction,
		CallerPhone: callerPhone,
	}); err != nil {
		c.log.Warn("session init: start call log failed", "error", err)
	}

	c.systemPrompt = buildSystemPrompt(o.deps.Persona, classification, customer)

	sttSession, ttsErrs := o.connectClients(ctx, c)
	if ttsErrs != nil {
		return nil, ttsErrs
	}
	c.sttSession = sttSession

	return c, nil
}

// callClassification is the inbound_existing | inbound_new | outbound_reminder
// label from spec.md §4.1.2 step 2.
type callClassification string

const (
	classExistingCaller   callClassification = "inbound_existing"
	classNewCaller        callClassification = "inbound_new"
	classOutboundReminder callClassification = "outbound_reminder"
)

// classifyCall looks up the caller's Customer via the same cache-then-DB
// path lookup_customer uses (spec.md §4.1.2 step 2 explicitly references
// that cache path), and classifies the call.
func (o *Orchestrator) classifyCall(ctx context.Context, callerPhone string, customParams map[string]string) (callClassification, *customerSnapshot) {
	if apptIDStr := customParams["appointment_id"]; apptIDStr != "" {
		return classOutboundReminder, o.reminderSnapshot(ctx, apptIDStr)
	}
	if callerPhone == "" {
		return classNewCaller, nil
	}

	argsJSON, _ := json.Marshal(map[string]any{"phone": callerPhone})
	result, err := o.deps.Tools.Execute(ctx, "lookup_customer", string(argsJSON))
	if err != nil || result == nil || !result.Success || result.Data == nil {
		return classNewCaller, nil
	}

	raw, err := json.Marshal(result.Data)
	if err != nil {
		return classNewCaller, nil
	}
	var snap customerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil || snap.Customer == nil {
		return classNewCaller, nil
	}
	return classExistingCaller, &snap
}

// reminderSnapshot loads the appointment an outbound reminder call is
// about, plus its owning Customer, directly from the relational stores:
// outbound calls are placed by the dialer with an appointment_id, not a
// caller phone number, so the lookup_customer tool's phone-keyed cache path
// doesn't apply here.
func (o *Orchestrator) reminderSnapshot(ctx context.Context, apptIDStr string) *customerSnapshot {
	apptID, err := strconv.ParseInt(apptIDStr, 10, 64)
	if err != nil {
		return nil
	}
	appt, err := o.deps.Appointments.Get(ctx, apptID)
	if err != nil || appt == nil {
		return nil
	}
	snap := &customerSnapshot{Appointments: []repo.Appointment{*appt}}
	if cust, err := o.deps.Customers.Get(ctx, appt.CustomerID); err == nil {
		snap.Customer = cust
	}
	return snap
}

// buildSystemPrompt composes the base persona with call-type-specific
// context per spec.md §4.1.2 step 3.
func buildSystemPrompt(persona string, classification callClassification, snap *customerSnapshot) string {
	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\n")

	switch classification {
	case classExistingCaller:
		sb.WriteString(fmt.Sprintf("You are speaking with %s %s, an existing customer",
			snap.Customer.FirstName, snap.Customer.LastName))
		if snap.Customer.CustomerSince != nil {
			sb.WriteString(fmt.Sprintf(" since %s", snap.Customer.CustomerSince.Format("2006-01-02")))
		}
		sb.WriteString(".\n")
		if len(snap.Vehicles) > 0 {
			sb.WriteString("Vehicles on file:\n")
			for _, v := range snap.Vehicles {
				sb.WriteString(fmt.Sprintf("- %d %s %s (VIN %s)\n", v.Year, v.Make, v.Model, v.VIN))
			}
		}
		if len(snap.Appointments) > 0 {
			sb.WriteString("Upcoming appointments:\n")
			for _, a := range snap.Appointments {
				sb.WriteString(fmt.Sprintf("- %s on %s\n", a.ServiceType, a.ScheduledAt.Format(time.RFC3339)))
			}
		}
	case classOutboundReminder:
		sb.WriteString("This is an outbound reminder call about an upcoming appointment. Confirm the details and ask if the customer needs to reschedule.\n")
		if snap != nil {
			if snap.Customer != nil {
				sb.WriteString(fmt.Sprintf("You are calling %s %s.\n", snap.Customer.FirstName, snap.Customer.LastName))
			}
			if len(snap.Appointments) > 0 {
				a := snap.Appointments[0]
				sb.WriteString(fmt.Sprintf("The appointment: %s on %s.\n", a.ServiceType, a.ScheduledAt.Format(time.RFC3339)))
			}
		}
	default:
		sb.WriteString("This caller is not yet in the system. If they want to book a service appointment, collect their name, phone, and vehicle details before offering slots.\n")
	}

	return sb.String()
}

// connectClients connects STT and TTS in parallel per spec.md §4.1.2 step
// 5, each with the bounded retry discipline. TTS has no persistent
// connection to hold onto in this design (SynthesizeStream opens a fresh
// stream per utterance), so only its reachability is probed via ListVoices;
// STT's streaming session is held for the call's lifetime.
func (o *Orchestrator) connectClients(ctx context.Context, c *call) (stt.SessionHandle, error) {
	type sttResult struct {
		session stt.SessionHandle
		err     error
	}
	sttDone := make(chan sttResult, 1)
	go func() {
		session, err := resilience.ConnectWithBackoff(ctx, callConnectRetry,
			func(ctx context.Context) (stt.SessionHandle, error) {
				return o.deps.STT.StartStream(ctx, o.deps.STTConfig)
			},
			func(err error) {
				c.log.Warn("stt connect attempt failed", "error", err)
			},
		)
		sttDone <- sttResult{session, err}
	}()

	ttsErr := make(chan error, 1)
	go func() {
		_, err := resilience.ConnectWithBackoff(ctx, callConnectRetry,
			func(ctx context.Context) (struct{}, error) {
				_, err := o.deps.TTS.ListVoices(ctx)
				return struct{}{}, err
			},
			func(err error) {
				c.log.Warn("tts connect attempt failed", "error", err)
			},
		)
		ttsErr <- err
	}()

	sttRes := <-sttDone
	if err := <-ttsErr; err != nil {
		if sttRes.session != nil {
			_ = sttRes.session.Close()
		}
		return nil, fmt.Errorf("connect tts: %w", err)
	}
	if sttRes.err != nil {
		return nil, fmt.Errorf("connect stt: %w", sttRes.err)
	}
	return sttRes.session, nil
}
