package encryption

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

const (
	receiptCodeBytes  = 10
	receiptCodePrefix = "VR"
	receiptGroupSize  = 4
)

var receiptEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// CryptoService signs vote payloads with the ledger's secp256k1 key and
// issues receipt codes.
type CryptoService struct {
	key *ecdsa.PrivateKey
}

type KeyFile struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	Address    string `json:"address"`
}

func NewCryptoService(key *ecdsa.PrivateKey) *CryptoService {
	return &CryptoService{key: key}
}

// NewEphemeralCryptoService generates a throwaway key, for tests and dry runs.
func NewEphemeralCryptoService() (*CryptoService, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate signing key")
	}

	return NewCryptoService(key), nil
}

// LoadOrGenerateKey restores the signing key from path or creates and saves
// a new one.
func LoadOrGenerateKey(path string) (*ecdsa.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		var kf KeyFile
		if err := json.Unmarshal(data, &kf); err != nil {
			return nil, errors.Wrap(err, "failed to parse signing key file")
		}

		key, err := crypto.HexToECDSA(strings.TrimPrefix(kf.PrivateKey, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "failed to restore signing key")
		}

		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to read signing key file")
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate signing key")
	}

	data, err := json.MarshalIndent(KeyFile{
		PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal signing key")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create key directory")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, errors.Wrap(err, "failed to save signing key")
	}

	return key, nil
}

// NewReceiptCode returns a random code such as VR-ABCD-EFGH-IJKL-MNOP.
func (cs *CryptoService) NewReceiptCode() (string, error) {
	b := make([]byte, receiptCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to read random bytes")
	}

	encoded := receiptEncoding.EncodeToString(b)
	groups := []string{receiptCodePrefix}
	for i := 0; i < len(encoded); i += receiptGroupSize {
		end := i + receiptGroupSize
		if end > len(encoded) {
			end = len(encoded)
		}
		groups = append(groups, encoded[i:end])
	}

	return strings.Join(groups, "-"), nil
}

// Sign creates a recoverable signature over the Keccak256 digest of payload.
func (cs *CryptoService) Sign(payload []byte) ([]byte, error) {
	return crypto.Sign(Keccak256(payload), cs.key)
}

// VerifySignature checks that signature over payload was made by this
// service's key.
func (cs *CryptoService) VerifySignature(payload, signature []byte) bool {
	if len(signature) != crypto.SignatureLength {
		return false
	}

	pub := crypto.FromECDSAPub(&cs.key.PublicKey)
	// VerifySignature takes the signature without the recovery id
	return crypto.VerifySignature(pub, Keccak256(payload), signature[:crypto.RecoveryIDOffset])
}

func (cs *CryptoService) Address() string {
	return crypto.PubkeyToAddress(cs.key.PublicKey).Hex()
}

// Keccak256 computes Keccak-256 hash
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}
