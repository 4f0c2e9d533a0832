// Package onboarding defines the client-onboarding workflow: the step
// registry from lead intake through contract signature to portal
// provisioning, plus the outbound notification capability the steps use.
package onboarding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	virta "github.com/jalehto/virta"
	"github.com/jalehto/virta/pkg/api"
)

// Step names of the onboarding flow.
const (
	StepCollectLead     = "collect_lead"
	StepScheduleMeeting = "schedule_meeting"
	StepPreparePricing  = "prepare_pricing"
	StepAwaitSignature  = "await_signature"
	StepDraftContract   = "draft_contract"
	StepSendContract    = "send_contract"
	StepProvisionPortal = "provision_portal"
	StepFinalize        = "finalize"
	StepCloseLost       = "close_lost"
)

// Interrupt reasons surfaced in pendingInterrupt.reason.
const (
	ReasonAwaitingAdminApproval = "awaiting-admin-approval"
	ReasonAwaitingSignature     = "awaiting-signature"
)

// Actions the flow understands when an instance is resumed.
const (
	ActionApprove            = "approve"
	ActionReject             = "reject"
	ActionSignatureCompleted = "signature-completed"
)

// State fields written or read by the onboarding steps.
const (
	FieldClientName           = "clientName"
	FieldClientEmail          = "clientEmail"
	FieldClientPhone          = "clientPhone"
	FieldSource               = "source"
	FieldStatus               = "status"
	FieldMeetingDatetime      = "meetingDatetime"
	FieldMeetingNotes         = "meetingNotes"
	FieldIntakeFormResponses  = "intakeFormResponses"
	FieldScopeOfWorkDraft     = "scopeOfWorkDraft"
	FieldPricingDiscussed     = "pricingDiscussed"
	FieldContractID           = "contractId"
	FieldContractEnvelopeID   = "contractEnvelopeId"
	FieldContractSigned       = "contractSigned"
	FieldContractSignedURL    = "contractSignedUrl"
	FieldOrgID                = "orgId"
	FieldPortalLink           = "portalLink"
	FieldPortalSignupComplete = "portalSignupComplete"
	FieldProjectPageID        = "projectPageId"
)

// Business status values carried in state.status.
const (
	StatusNew              = "new"
	StatusMeetingScheduled = "meeting-scheduled"
	StatusPricingPrepared  = "pricing-prepared"
	StatusContractDrafted  = "contract-drafted"
	StatusContractSent     = "contract-sent"
	StatusPortalReady      = "portal-ready"
	StatusOnboarded        = "onboarded"
	StatusClosedLost       = "closed-lost"
)

// Config carries the capabilities the onboarding steps depend on.
type Config struct {
	// Notifier delivers outbound messages. Nil means LogNotifier.
	Notifier Notifier

	// Clock is a test seam. Nil means time.Now.
	Clock func() time.Time

	// NewID is a test seam for generated identifiers. Nil means uuid.NewString.
	NewID func() string
}

type flow struct {
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

// Flow builds the onboarding step registry. Start requires clientName,
// clientEmail and clientPhone; everything else fills in as the instance
// moves through the pipeline.
func Flow(cfg Config) (*api.Registry, error) {
	f := &flow{
		notifier: cfg.Notifier,
		now:      cfg.Clock,
		newID:    cfg.NewID,
	}
	if f.notifier == nil {
		f.notifier = NewLogNotifier(nil)
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.newID == nil {
		f.newID = uuid.NewString
	}

	return virta.NewFlow().
		Require(FieldClientName, FieldClientEmail, FieldClientPhone).
		Step(StepCollectLead, f.collectLead, StepScheduleMeeting).
		Step(StepScheduleMeeting, f.scheduleMeeting, StepPreparePricing).
		Step(StepPreparePricing, f.preparePricing, StepAwaitSignature).
		Step(StepAwaitSignature, f.awaitSignature, StepDraftContract, StepCloseLost).
		Step(StepDraftContract, f.draftContract, StepSendContract).
		Step(StepSendContract, f.sendContract, StepProvisionPortal).
		Step(StepProvisionPortal, f.provisionPortal, StepFinalize).
		Step(StepFinalize, f.finalize).
		Step(StepCloseLost, f.closeLost).
		Build()
}

// MustFlow is like Flow but panics on error. Useful in main().
func MustFlow(cfg Config) *api.Registry {
	reg, err := Flow(cfg)
	if err != nil {
		panic(err)
	}
	return reg
}

// collectLead normalizes the raw lead and stamps the intake record.
func (f *flow) collectLead(ctx context.Context, st api.State) api.Outcome {
	if st.String(FieldSource) == "" {
		st[FieldSource] = "unknown"
	}
	st[FieldStatus] = StatusNew
	if _, ok := st[FieldIntakeFormResponses]; !ok {
		st[FieldIntakeFormResponses] = map[string]any{
			"receivedAt": f.now().UTC().Format(time.RFC3339),
			"source":     st.String(FieldSource),
		}
	}
	return api.Advance(StepScheduleMeeting, st)
}

// scheduleMeeting records the discovery-call details when the lead already
// supplied them. A missing meeting is fine at this stage.
func (f *flow) scheduleMeeting(ctx context.Context, st api.State) api.Outcome {
	if st.String(FieldMeetingDatetime) != "" && st.String(FieldMeetingNotes) == "" {
		st[FieldMeetingNotes] = "discovery call scheduled"
	}
	st[FieldStatus] = StatusMeetingScheduled
	return api.Advance(StepPreparePricing, st)
}

// preparePricing derives the scope-of-work draft used for the contract.
func (f *flow) preparePricing(ctx context.Context, st api.State) api.Outcome {
	if st.String(FieldScopeOfWorkDraft) == "" {
		st[FieldScopeOfWorkDraft] = fmt.Sprintf("Scope of work for %s (source: %s)",
			st.String(FieldClientName), st.String(FieldSource))
	}
	st[FieldPricingDiscussed] = true
	st[FieldStatus] = StatusPricingPrepared
	return api.Advance(StepAwaitSignature, st)
}

// awaitSignature is the admin approval gate. On first entry it parks the
// instance; a resume carrying an action decides where it goes next.
func (f *flow) awaitSignature(ctx context.Context, st api.State) api.Outcome {
	action := st.String(api.KeyAction)
	delete(st, api.KeyAction)

	switch action {
	case ActionApprove:
		st[api.KeyAdminDecision] = ActionApprove
		return api.Advance(StepDraftContract, st)
	case ActionReject:
		st[api.KeyAdminDecision] = ActionReject
		return api.Advance(StepCloseLost, st)
	case api.ActionTimeoutReminder:
		// Best effort. A failed reminder must not fail the instance.
		msg := fmt.Sprintf("Reminder: proposal for %s is awaiting your approval.",
			st.String(FieldClientName))
		_ = f.notifier.Notify(ctx, ChannelEmail, "admin", msg)
		return api.Interrupt(ReasonAwaitingAdminApproval, st)
	case "":
		return api.Interrupt(ReasonAwaitingAdminApproval, st)
	default:
		// Unrecognized input; stay parked rather than guessing.
		return api.Interrupt(ReasonAwaitingAdminApproval, st)
	}
}

// draftContract assigns a contract identity from the approved scope draft.
func (f *flow) draftContract(ctx context.Context, st api.State) api.Outcome {
	if st.String(FieldContractID) == "" {
		st[FieldContractID] = "contract-" + f.newID()
	}
	st[FieldStatus] = StatusContractDrafted
	return api.Advance(StepSendContract, st)
}

// sendContract sends the contract to the client and parks the instance
// until the e-signature webhook resumes it.
func (f *flow) sendContract(ctx context.Context, st api.State) api.Outcome {
	action := st.String(api.KeyAction)
	delete(st, api.KeyAction)

	switch action {
	case ActionSignatureCompleted:
		st[FieldContractSigned] = true
		st[FieldStatus] = StatusContractSent
		return api.Advance(StepProvisionPortal, st)
	case api.ActionTimeoutReminder:
		msg := fmt.Sprintf("Reminder: your contract %s is waiting for a signature.",
			st.String(FieldContractID))
		_ = f.notifier.Notify(ctx, ChannelEmail, st.String(FieldClientEmail), msg)
		return api.Interrupt(ReasonAwaitingSignature, st)
	case "":
		msg := fmt.Sprintf("Hi %s, your contract %s is ready to sign.",
			st.String(FieldClientName), st.String(FieldContractID))
		if err := f.notifier.Notify(ctx, ChannelEmail, st.String(FieldClientEmail), msg); err != nil {
			return api.Fail(fmt.Errorf("send contract to %s: %w", st.String(FieldClientEmail), err), st)
		}
		if st.String(FieldContractEnvelopeID) == "" {
			st[FieldContractEnvelopeID] = "env-" + f.newID()
		}
		st[FieldStatus] = StatusContractSent
		return api.Interrupt(ReasonAwaitingSignature, st)
	default:
		return api.Interrupt(ReasonAwaitingSignature, st)
	}
}

// provisionPortal creates the client's workspace once the contract is signed.
func (f *flow) provisionPortal(ctx context.Context, st api.State) api.Outcome {
	if st.String(FieldOrgID) == "" {
		st[FieldOrgID] = "org-" + f.newID()
	}
	st[FieldPortalLink] = "https://portal.example.com/" + st.String(FieldOrgID)
	if st.String(FieldProjectPageID) == "" {
		st[FieldProjectPageID] = "proj-" + f.newID()
	}
	st[FieldPortalSignupComplete] = true
	st[FieldStatus] = StatusPortalReady
	return api.Advance(StepFinalize, st)
}

// finalize welcomes the client and completes the instance.
func (f *flow) finalize(ctx context.Context, st api.State) api.Outcome {
	msg := fmt.Sprintf("Welcome aboard, %s! Your portal: %s",
		st.String(FieldClientName), st.String(FieldPortalLink))
	_ = f.notifier.Notify(ctx, ChannelEmail, st.String(FieldClientEmail), msg)
	st[FieldStatus] = StatusOnboarded
	return api.Complete(st)
}

// closeLost records the rejected lead and completes the instance. A
// rejection is a normal business outcome, not a workflow failure.
func (f *flow) closeLost(ctx context.Context, st api.State) api.Outcome {
	st[FieldStatus] = StatusClosedLost
	return api.Complete(st)
}
