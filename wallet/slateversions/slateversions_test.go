package slateversions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegabu/go-mimblewimble/secp"
	"github.com/olegabu/go-mimblewimble/wallet"
)

const v2Slate = `{
	"version_info": {"version": 2, "orig_version": 2, "block_header_version": 6},
	"num_participants": 2,
	"id": "0436430c-2b02-624c-2032-570501212b00",
	"tx": {
		"offset": "d202964900000000d302964900000000d402964900000000d502964900000000",
		"body": {"inputs": [], "outputs": [], "kernels": []}
	},
	"amount": "60000000000",
	"fee": "7000000",
	"height": "5",
	"lock_height": "0",
	"participant_data": [{
		"id": "0",
		"public_blind_excess": "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798",
		"public_nonce": "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798",
		"part_sig": null,
		"message": null,
		"message_sig": null
	}]
}`

func TestUnmarshalV2(t *testing.T) {
	var vs VersionedSlate
	require.NoError(t, json.Unmarshal([]byte(v2Slate), &vs))
	assert.Equal(t, V2, vs.Version())
	require.NotNil(t, vs.V2)

	slate, err := vs.Slate()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), slate.VersionInfo.Version)
	assert.Equal(t, uint16(2), slate.VersionInfo.OrigVersion)
	assert.Equal(t, uint64(60000000000), slate.Amount)
	assert.Equal(t, uint64(7000000), slate.Fee)
	assert.Equal(t, uint64(5), slate.Height)
	assert.Nil(t, slate.TTLCutoffHeight)
	require.Len(t, slate.ParticipantData, 1)
	assert.Equal(t, 0, slate.ParticipantData[0].ID)
	assert.Nil(t, slate.ParticipantData[0].PartSig)
}

func TestUnmarshalRejectsUnknownVersion(t *testing.T) {
	var vs VersionedSlate
	err := json.Unmarshal([]byte(`{"version_info": {"version": 4}}`), &vs)
	assert.ErrorIs(t, err, wallet.ErrUnsupportedSlate)
}

func testSlate(t *testing.T) *wallet.Slate {
	slate := wallet.NewSlate(2, 6)
	slate.Amount = 42
	slate.Fee = 8
	slate.Height = 10
	ttl := uint64(70)
	slate.TTLCutoffHeight = &ttl

	secKey, err := secp.RandomSecret()
	require.NoError(t, err)
	nonce, err := secp.RandomSecret()
	require.NoError(t, err)
	message := "hello"
	require.NoError(t, slate.FillRoundOne(secKey, nonce, 0, &message))
	return slate
}

func TestV3RoundTrip(t *testing.T) {
	slate := testSlate(t)

	vs, err := FromSlate(slate, V3)
	require.NoError(t, err)
	data, err := json.Marshal(vs)
	require.NoError(t, err)

	var parsed VersionedSlate
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, V3, parsed.Version())

	back, err := parsed.Slate()
	require.NoError(t, err)
	assert.Equal(t, slate.ID, back.ID)
	assert.Equal(t, slate.TTLCutoffHeight, back.TTLCutoffHeight)
	assert.Equal(t, slate.ParticipantData, back.ParticipantData)
	assert.NoError(t, back.VerifyMessages())
}

func TestDowngradeDropsV3Fields(t *testing.T) {
	slate := testSlate(t)

	vs, err := FromSlate(slate, V2)
	require.NoError(t, err)
	require.NotNil(t, vs.V2)
	assert.Equal(t, uint16(2), vs.V2.VersionInfo.Version)

	data, err := json.Marshal(vs)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ttl_cutoff_height")
	assert.NotContains(t, string(data), "payment_proof")

	back, err := vs.Slate()
	require.NoError(t, err)
	assert.Nil(t, back.TTLCutoffHeight)
	assert.Equal(t, slate.Amount, back.Amount)
	assert.Equal(t, slate.ParticipantData, back.ParticipantData)
}

func TestFromSlateRejectsUnknownVersion(t *testing.T) {
	_, err := FromSlate(testSlate(t), Version("V9"))
	assert.ErrorIs(t, err, wallet.ErrUnsupportedSlate)
}
