package encryption

import (
	"encoding/hex"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	cs, err := NewEphemeralCryptoService()
	require.NoError(t, err)

	payload := []byte(`{"election_id":"e1","candidate_id":"c1"}`)
	sig, err := cs.Sign(payload)
	require.NoError(t, err)
	assert.Len(t, sig, crypto.SignatureLength)

	assert.True(t, cs.VerifySignature(payload, sig))
	assert.False(t, cs.VerifySignature([]byte(`{"election_id":"e1","candidate_id":"c2"}`), sig))
	assert.False(t, cs.VerifySignature(payload, sig[:10]))

	other, err := NewEphemeralCryptoService()
	require.NoError(t, err)
	assert.False(t, other.VerifySignature(payload, sig))

	pub, err := crypto.SigToPub(Keccak256(payload), sig)
	require.NoError(t, err)
	assert.Equal(t, cs.Address(), crypto.PubkeyToAddress(*pub).Hex())
}

func TestReceiptCodes(t *testing.T) {
	cs, err := NewEphemeralCryptoService()
	require.NoError(t, err)

	format := regexp.MustCompile(`^VR-[A-Z2-7]{4}-[A-Z2-7]{4}-[A-Z2-7]{4}-[A-Z2-7]{4}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		code, err := cs.NewReceiptCode()
		require.NoError(t, err)
		assert.Regexp(t, format, code)

		_, dup := seen[code]
		require.False(t, dup, "duplicate receipt %s", code)
		seen[code] = struct{}{}
	}
}

func TestLoadOrGenerateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing.json")

	key, err := LoadOrGenerateKey(path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	again, err := LoadOrGenerateKey(path)
	require.NoError(t, err)
	assert.Equal(t, crypto.FromECDSA(key), crypto.FromECDSA(again))

	payload := []byte("payload")
	sig, err := NewCryptoService(key).Sign(payload)
	require.NoError(t, err)
	assert.True(t, NewCryptoService(again).VerifySignature(payload, sig))
}

func TestKeccak256(t *testing.T) {
	// empty input digest
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(Keccak256()),
	)
	assert.Equal(t, crypto.Keccak256([]byte("a"), []byte("b")), Keccak256([]byte("a"), []byte("b")))
}
