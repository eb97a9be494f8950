package reveal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cirvia/pkg/domain"
	dErrors "cirvia/pkg/domain-errors"
)

func testChat() *Chat {
	return &Chat{
		ID:             domain.NewChatID(),
		Type:           ChatOneToOne,
		ParticipantAID: domain.NewUserID(),
		ParticipantBID: domain.NewUserID(),
	}
}

func TestNewPairKeyNormalizesOrder(t *testing.T) {
	chat := testChat()
	k1 := NewPairKey(chat.ID, chat.ParticipantAID, chat.ParticipantBID)
	k2 := NewPairKey(chat.ID, chat.ParticipantBID, chat.ParticipantAID)
	assert.Equal(t, k1, k2)
}

func TestOtherParticipant(t *testing.T) {
	chat := testChat()

	other, err := chat.OtherParticipant(chat.ParticipantAID)
	require.NoError(t, err)
	assert.Equal(t, chat.ParticipantBID, other)

	_, err = chat.OtherParticipant(domain.NewUserID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestApplyRevealOneSided(t *testing.T) {
	chat := testChat()
	state := &PairState{}
	now := time.Now()

	outcome := state.ApplyReveal(chat, chat.ParticipantAID, now)
	assert.False(t, outcome.UpgradedMutual)
	assert.Equal(t, StatusOneSidedAToB, outcome.Record.Status)
	assert.Equal(t, chat.ParticipantAID, outcome.Record.FromUserID)
	assert.Equal(t, chat.ParticipantBID, outcome.Record.ToUserID)
	assert.Nil(t, outcome.Record.ConfirmedAt)

	// Direction is tracked from the acting participant's slot.
	outcome = (&PairState{}).ApplyReveal(chat, chat.ParticipantBID, now)
	assert.Equal(t, StatusOneSidedBToA, outcome.Record.Status)
}

func TestApplyRevealUpgradesToMutual(t *testing.T) {
	chat := testChat()
	state := &PairState{}
	now := time.Now()

	state.ApplyReveal(chat, chat.ParticipantAID, now)
	outcome := state.ApplyReveal(chat, chat.ParticipantBID, now.Add(time.Minute))

	require.True(t, outcome.UpgradedMutual)
	assert.Equal(t, StatusMutualConfirm, outcome.Record.Status)
	assert.Equal(t, StatusMutualConfirm, state.Outbound(chat.ParticipantAID).Status)
	require.NotNil(t, state.Outbound(chat.ParticipantAID).ConfirmedAt)
	require.NotNil(t, outcome.Record.ConfirmedAt)
}

func TestApplyRevealAfterRevokeStartsFresh(t *testing.T) {
	chat := testChat()
	state := &PairState{}
	now := time.Now()

	state.ApplyReveal(chat, chat.ParticipantAID, now)
	_, err := state.ApplyRevoke(chat, chat.ParticipantAID, now.Add(time.Minute))
	require.NoError(t, err)

	outcome := state.ApplyReveal(chat, chat.ParticipantAID, now.Add(2*time.Minute))
	assert.Equal(t, StatusOneSidedAToB, outcome.Record.Status)
	assert.Nil(t, outcome.Record.RevokedAt)
}

func TestApplyMutualRequestAndAccept(t *testing.T) {
	chat := testChat()
	state := &PairState{}
	now := time.Now()

	record := state.ApplyMutualRequest(chat, chat.ParticipantAID, now)
	assert.Equal(t, StatusMutualPending, record.Status)

	accepted, err := state.ApplyMutualAccept(chat, chat.ParticipantBID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusMutualConfirm, accepted.Status)
	assert.Equal(t, StatusMutualConfirm, state.Outbound(chat.ParticipantAID).Status)
	assert.Equal(t, StatusMutualConfirm, state.Outbound(chat.ParticipantBID).Status)
}

func TestApplyMutualAcceptWithoutRequestFails(t *testing.T) {
	chat := testChat()
	state := &PairState{}

	_, err := state.ApplyMutualAccept(chat, chat.ParticipantBID, time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

	// The requester cannot accept their own request.
	state.ApplyMutualRequest(chat, chat.ParticipantAID, time.Now())
	_, err = state.ApplyMutualAccept(chat, chat.ParticipantAID, time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestApplyMutualAcceptTwiceFails(t *testing.T) {
	chat := testChat()
	state := &PairState{}
	now := time.Now()

	state.ApplyMutualRequest(chat, chat.ParticipantAID, now)
	_, err := state.ApplyMutualAccept(chat, chat.ParticipantBID, now)
	require.NoError(t, err)

	// Already confirmed: the reverse direction is no longer MUTUAL_PENDING.
	_, err = state.ApplyMutualAccept(chat, chat.ParticipantBID, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestApplyRevokeWithoutRevealFails(t *testing.T) {
	chat := testChat()
	state := &PairState{}

	_, err := state.ApplyRevoke(chat, chat.ParticipantAID, time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestApplyRevokeEncodesRevokerSlot(t *testing.T) {
	chat := testChat()
	now := time.Now()

	state := &PairState{}
	state.ApplyReveal(chat, chat.ParticipantBID, now)
	outcome, err := state.ApplyRevoke(chat, chat.ParticipantBID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusRevokedByB, outcome.Record.Status)
	assert.False(t, outcome.DowngradedPeer)
}

func TestApplyRevokeDowngradesMutual(t *testing.T) {
	chat := testChat()
	state := &PairState{}
	now := time.Now()

	state.ApplyReveal(chat, chat.ParticipantAID, now)
	state.ApplyReveal(chat, chat.ParticipantBID, now)

	outcome, err := state.ApplyRevoke(chat, chat.ParticipantAID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusRevokedByA, outcome.Record.Status)
	assert.True(t, outcome.DowngradedPeer)
	assert.Equal(t, StatusRevokedMutual, state.Outbound(chat.ParticipantBID).Status)
	assert.NotNil(t, state.Outbound(chat.ParticipantBID).RevokedAt)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusNone.CanReveal())
	assert.True(t, StatusRevokedByA.CanReveal())
	assert.True(t, StatusRevokedMutual.CanReveal())
	assert.False(t, StatusMutualConfirm.CanReveal())
	assert.False(t, StatusMutualPending.CanReveal())

	assert.False(t, StatusNone.CanRevoke())
	assert.False(t, StatusRevokedByB.CanRevoke())
	assert.True(t, StatusOneSidedAToB.CanRevoke())
	assert.True(t, StatusMutualPending.CanRevoke())
	assert.True(t, StatusMutualConfirm.CanRevoke())

	assert.True(t, StatusOneSidedBToA.Discloses())
	assert.True(t, StatusMutualConfirm.Discloses())
	assert.False(t, StatusMutualPending.Discloses())
	assert.False(t, StatusRevokedMutual.Discloses())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("MUTUAL_CONFIRMED")
	require.NoError(t, err)
	assert.Equal(t, StatusMutualConfirm, st)

	_, err = ParseStatus("SOMETHING_ELSE")
	assert.Error(t, err)
}
