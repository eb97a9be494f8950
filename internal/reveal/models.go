package reveal

import (
	"time"

	"cirvia/pkg/domain"
	dErrors "cirvia/pkg/domain-errors"
)

// ChatType distinguishes 1:1 conversations from group rooms. Reveal operations
// are defined only for ONE_TO_ONE.
type ChatType string

const (
	ChatOneToOne ChatType = "ONE_TO_ONE"
	ChatGroup    ChatType = "GROUP"
)

// Chat is the external conversation entity, read-only to this module.
type Chat struct {
	ID             domain.ChatID
	Type           ChatType
	ParticipantAID domain.UserID
	ParticipantBID domain.UserID
}

// IsParticipant reports whether userID is one of the two parties.
func (c *Chat) IsParticipant(userID domain.UserID) bool {
	return c.ParticipantAID == userID || c.ParticipantBID == userID
}

// OtherParticipant resolves the counterpart of userID, or an authorization
// error when userID is not in the chat.
func (c *Chat) OtherParticipant(userID domain.UserID) (domain.UserID, error) {
	switch userID {
	case c.ParticipantAID:
		return c.ParticipantBID, nil
	case c.ParticipantBID:
		return c.ParticipantAID, nil
	default:
		return domain.UserID{}, dErrors.New(dErrors.CodeUnauthorized, "user is not a participant of this chat")
	}
}

// Status is the reveal state for one direction of a chat pair.
type Status string

const (
	StatusNone          Status = "NONE"
	StatusOneSidedAToB  Status = "ONE_SIDED_A_TO_B"
	StatusOneSidedBToA  Status = "ONE_SIDED_B_TO_A"
	StatusMutualPending Status = "MUTUAL_PENDING"
	StatusMutualConfirm Status = "MUTUAL_CONFIRMED"
	StatusRevokedByA    Status = "REVOKED_BY_A"
	StatusRevokedByB    Status = "REVOKED_BY_B"
	StatusRevokedMutual Status = "REVOKED_MUTUAL"
)

var validStatuses = map[Status]bool{
	StatusNone:          true,
	StatusOneSidedAToB:  true,
	StatusOneSidedBToA:  true,
	StatusMutualPending: true,
	StatusMutualConfirm: true,
	StatusRevokedByA:    true,
	StatusRevokedByB:    true,
	StatusRevokedMutual: true,
}

// ParseStatus constructs a Status from stored input.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid reveal status")
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// IsOneSided reports a one-directional disclosure.
func (s Status) IsOneSided() bool {
	return s == StatusOneSidedAToB || s == StatusOneSidedBToA
}

// IsRevoked reports any revoked variant.
func (s Status) IsRevoked() bool {
	return s == StatusRevokedByA || s == StatusRevokedByB || s == StatusRevokedMutual
}

// Discloses reports whether this direction currently discloses identity.
func (s Status) Discloses() bool {
	return s.IsOneSided() || s == StatusMutualConfirm
}

// CanReveal reports whether a new reveal may start from this status.
func (s Status) CanReveal() bool {
	return s == StatusNone || s.IsRevoked()
}

// CanRevoke reports whether a live reveal exists to take back.
func (s Status) CanRevoke() bool {
	return s != StatusNone && !s.IsRevoked()
}

// Reveal is one directional record: "FromUserID disclosed to ToUserID in
// ChatID". Records are mutated in place and never deleted; revocation is a
// status transition.
type Reveal struct {
	ChatID      domain.ChatID
	FromUserID  domain.UserID
	ToUserID    domain.UserID
	Status      Status
	InitiatedAt time.Time
	ConfirmedAt *time.Time
	RevokedAt   *time.Time
}

// PairKey identifies the unordered pair of a chat. Normalize orders the two
// user IDs so A/B argument order never produces distinct keys.
type PairKey struct {
	ChatID domain.ChatID
	UserA  domain.UserID
	UserB  domain.UserID
}

// NewPairKey builds a normalized key for the chat's participant pair.
func NewPairKey(chatID domain.ChatID, a, b domain.UserID) PairKey {
	if a.String() > b.String() {
		a, b = b, a
	}
	return PairKey{ChatID: chatID, UserA: a, UserB: b}
}

// PairState aggregates both directional records of one chat pair so
// transitions that couple the directions update them under a single write.
// Slot order carries no meaning; records identify their direction by
// FromUserID/ToUserID.
type PairState struct {
	Records [2]*Reveal
}

func cloneReveal(r *Reveal) *Reveal {
	if r == nil {
		return nil
	}
	copied := *r
	if r.ConfirmedAt != nil {
		t := *r.ConfirmedAt
		copied.ConfirmedAt = &t
	}
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		copied.RevokedAt = &t
	}
	return &copied
}

// Clone deep-copies the aggregate so callers can snapshot it before a
// transition mutates it in place.
func (p *PairState) Clone() *PairState {
	return &PairState{Records: [2]*Reveal{cloneReveal(p.Records[0]), cloneReveal(p.Records[1])}}
}

// Outbound returns the record from userID to the other participant, or nil.
func (p *PairState) Outbound(userID domain.UserID) *Reveal {
	for _, r := range p.Records {
		if r != nil && r.FromUserID == userID {
			return r
		}
	}
	return nil
}

// Inbound returns the record addressed to userID, or nil.
func (p *PairState) Inbound(userID domain.UserID) *Reveal {
	for _, r := range p.Records {
		if r != nil && r.ToUserID == userID {
			return r
		}
	}
	return nil
}

func (p *PairState) setOutbound(userID domain.UserID, next *Reveal) {
	for i, r := range p.Records {
		if r != nil && r.FromUserID == userID {
			p.Records[i] = next
			return
		}
	}
	for i, r := range p.Records {
		if r == nil {
			p.Records[i] = next
			return
		}
	}
}

// oneSidedStatus names the directional one-sided status for a reveal from
// fromUserID.
func oneSidedStatus(chat *Chat, fromUserID domain.UserID) Status {
	if fromUserID == chat.ParticipantAID {
		return StatusOneSidedAToB
	}
	return StatusOneSidedBToA
}

// revokedStatus encodes which participant slot revoked, independent of the
// pair's prior directionality.
func revokedStatus(chat *Chat, actorID domain.UserID) Status {
	if actorID == chat.ParticipantAID {
		return StatusRevokedByA
	}
	return StatusRevokedByB
}

// RevealOutcome describes what a transition did, so the service can apply the
// matching scope overrides and events.
type RevealOutcome struct {
	Record         *Reveal
	UpgradedMutual bool
	DowngradedPeer bool
}

// ApplyReveal performs the one-directional reveal transition on the aggregate.
// If the reverse direction was already one-sided, both directions upgrade to
// MUTUAL_CONFIRMED.
func (p *PairState) ApplyReveal(chat *Chat, actorID domain.UserID, now time.Time) RevealOutcome {
	otherID, _ := chat.OtherParticipant(actorID)
	reverse := p.Inbound(actorID)
	forward := p.Outbound(actorID)

	upgrade := reverse != nil && reverse.Status.IsOneSided()
	status := oneSidedStatus(chat, actorID)
	var confirmedAt *time.Time
	if upgrade {
		status = StatusMutualConfirm
		confirmedAt = &now
	}

	initiatedAt := now
	if forward != nil {
		initiatedAt = forward.InitiatedAt
	}
	next := &Reveal{
		ChatID:      chat.ID,
		FromUserID:  actorID,
		ToUserID:    otherID,
		Status:      status,
		InitiatedAt: initiatedAt,
		ConfirmedAt: confirmedAt,
	}
	p.setOutbound(actorID, next)

	if upgrade {
		reverse.Status = StatusMutualConfirm
		reverse.ConfirmedAt = &now
		reverse.RevokedAt = nil
	}

	return RevealOutcome{Record: next, UpgradedMutual: upgrade}
}

// ApplyMutualRequest records a MUTUAL_PENDING request from the actor. Nothing
// is disclosed until the other party accepts.
func (p *PairState) ApplyMutualRequest(chat *Chat, actorID domain.UserID, now time.Time) *Reveal {
	otherID, _ := chat.OtherParticipant(actorID)
	next := &Reveal{
		ChatID:      chat.ID,
		FromUserID:  actorID,
		ToUserID:    otherID,
		Status:      StatusMutualPending,
		InitiatedAt: now,
	}
	p.setOutbound(actorID, next)
	return next
}

// ApplyMutualAccept confirms a pending request from the other party. Errors
// with an invalid-state code when no such request is pending.
func (p *PairState) ApplyMutualAccept(chat *Chat, actorID domain.UserID, now time.Time) (*Reveal, error) {
	otherID, _ := chat.OtherParticipant(actorID)
	reverse := p.Inbound(actorID)
	if reverse == nil || reverse.Status != StatusMutualPending {
		return nil, dErrors.New(dErrors.CodeInvalidState, "no pending mutual reveal request")
	}

	reverse.Status = StatusMutualConfirm
	reverse.ConfirmedAt = &now
	reverse.RevokedAt = nil

	next := &Reveal{
		ChatID:      chat.ID,
		FromUserID:  actorID,
		ToUserID:    otherID,
		Status:      StatusMutualConfirm,
		InitiatedAt: reverse.InitiatedAt,
		ConfirmedAt: &now,
	}
	p.setOutbound(actorID, next)
	return reverse, nil
}

// ApplyRevoke revokes the actor's outbound disclosure. If the reverse
// direction was mutually confirmed it is downgraded to REVOKED_MUTUAL: both
// sides lose disclosure once either revokes a mutual state.
func (p *PairState) ApplyRevoke(chat *Chat, actorID domain.UserID, now time.Time) (RevealOutcome, error) {
	forward := p.Outbound(actorID)
	if forward == nil {
		return RevealOutcome{}, dErrors.New(dErrors.CodeInvalidState, "no reveal exists to revoke")
	}

	forward.Status = revokedStatus(chat, actorID)
	forward.RevokedAt = &now

	outcome := RevealOutcome{Record: forward}
	reverse := p.Inbound(actorID)
	if reverse != nil && reverse.Status == StatusMutualConfirm {
		reverse.Status = StatusRevokedMutual
		reverse.RevokedAt = &now
		outcome.DowngradedPeer = true
	}
	return outcome, nil
}
